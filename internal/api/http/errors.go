package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

var kindStatus = map[filesystem.Kind]int{
	filesystem.KindPathTraversal:     http.StatusForbidden,
	filesystem.KindNotFound:          http.StatusNotFound,
	filesystem.KindAlreadyExists:     http.StatusConflict,
	filesystem.KindNotADirectory:     http.StatusBadRequest,
	filesystem.KindIsADirectory:      http.StatusBadRequest,
	filesystem.KindDirectoryNotEmpty: http.StatusConflict,
	filesystem.KindInvalidName:       http.StatusBadRequest,
	filesystem.KindInvalidOperation:  http.StatusUnprocessableEntity,
	filesystem.KindTooLarge:          http.StatusRequestEntityTooLarge,
	filesystem.KindInvalidArchive:    http.StatusUnprocessableEntity,
	filesystem.KindInvalidArgument:   http.StatusBadRequest,
	filesystem.KindIOFailure:         http.StatusInternalServerError,
}

// StatusFor maps an error kind onto an HTTP status
func StatusFor(kind filesystem.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope. IO failures get a generic message
// so OS details stay in the log.
func respondError(c *gin.Context, err error) {
	kind := filesystem.KindOf(err)
	message := "internal error"
	var fe *filesystem.Error
	if errors.As(err, &fe) && kind != filesystem.KindIOFailure {
		message = fe.Message()
	}
	c.AbortWithStatusJSON(StatusFor(kind), gin.H{
		"success": false,
		"error": gin.H{
			"code":    kind.Code(),
			"message": message,
		},
	})
}

// badRequest reports a request that failed to bind
func badRequest(err error) error {
	return &filesystem.Error{Kind: filesystem.KindInvalidArgument, Op: "bind", Err: err}
}
