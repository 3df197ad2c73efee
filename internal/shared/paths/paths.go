// Package paths maps tenant identities onto home directories.
//
// A tenant's home is always derived from its ID and the configured base,
// never from client input.
package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// DefaultHomeBase is where tenant homes live unless FILES_HOME_BASE says otherwise
const DefaultHomeBase = "/home"

// MaxTenantIDLength matches the useradd limit on Linux account names
const MaxTenantIDLength = 32

var tenantIDPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

// ValidateTenantID checks if a tenant ID is safe to use as a single path segment
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if len(tenantID) > MaxTenantIDLength {
		return fmt.Errorf("tenant ID exceeds %d characters", MaxTenantIDLength)
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("tenant ID %q contains invalid characters", tenantID)
	}
	return nil
}

// TenantHome returns the home directory for tenantID under base
func TenantHome(base, tenantID string) (string, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	if base == "" {
		base = DefaultHomeBase
	}
	if !filepath.IsAbs(base) {
		return "", fmt.Errorf("home base %q must be absolute", base)
	}
	return filepath.Join(filepath.Clean(base), tenantID), nil
}
