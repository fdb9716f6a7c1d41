package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/internal/domain"
)

const (
	StatusErr          = "error"
	StatusSuccess      = "success"
	StatusNotAvailable = "not available"
	StatusInvalidInput = "invalid_input"
	StatusConflict     = "conflict"
)

// ResponseWithData is the envelope for successful responses carrying a payload.
type ResponseWithData struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ResponseWithMessage carries only a human readable message.
type ResponseWithMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NoMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, ResponseWithMessage{
		Status:  StatusNotAvailable,
		Message: "method not allowed on this endpoint",
	})
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, ResponseWithData{Status: StatusSuccess, Data: data})
}

func invalid(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ResponseWithMessage{Status: StatusInvalidInput, Message: msg})
}

// fail maps engine errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	code, status := http.StatusInternalServerError, StatusErr
	switch {
	case errors.Is(err, domain.ErrInvalidItem):
		code, status = http.StatusBadRequest, StatusInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		code, status = http.StatusNotFound, StatusNotAvailable
	case errors.Is(err, domain.ErrRetained), errors.Is(err, domain.ErrNotRunning):
		code, status = http.StatusConflict, StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, ResponseWithMessage{Status: status, Message: err.Error()})
}
