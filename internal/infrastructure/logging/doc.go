// Package logging builds the zap logger and the shared field helpers.
//
// Production writes JSON, development writes colored console output.
// Sampling is disabled in both.
//
// Each file operation logs one line carrying op, tenant, path, code,
// duration and request_id:
//
//	logger.Info("file operation",
//	    logging.Op("extract"),
//	    logging.Tenant("u1"),
//	    logging.Path("/backup.zip"),
//	    logging.Code("ok"),
//	)
package logging
