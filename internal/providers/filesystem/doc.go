// Package filesystem provides the sandboxed file manager behind the panel.
//
// This package is organized into specialized modules:
//   - paths: Sandbox path resolution (the only way a client path reaches the disk)
//   - metadata: FileDescriptor construction from a fresh lstat
//   - directory: Directory listing with hidden-file filtering
//   - basic: Content read/write (utf8 or base64), upload and download
//   - operations: Create, rename, copy, move and delete
//   - archives: Compress and extract (zip, tar.gz, tar.zst) with zip-slip defense
//   - search: Bounded name search that never follows symlinks
//   - service: Validated request structs and the Service entry point
//
// All operations:
//   - Resolve every client path through a Sandbox before touching the filesystem
//   - Report failures as *Error with a stable Kind and a sandbox-relative path
//   - Publish new content via temp entries and rename, never in place
//
// Example Usage:
//
//	sb, err := filesystem.NewSandbox("/home/u1")
//	svc := filesystem.NewService(filesystem.DefaultLimits(), logger)
//	listing, err := svc.List(ctx, sb, filesystem.ListRequest{Path: "projects"})
package filesystem
