package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"latecomers/internal/auth"
	"latecomers/internal/ledger"
	"latecomers/internal/report"
)

// writeError maps domain errors to HTTP answers. Unknown errors are logged
// and answered with a generic 500.
func writeError(c *gin.Context, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, ledger.ErrNotConfirmed):
		c.JSON(http.StatusBadRequest, gin.H{"error": ledger.ErrNotConfirmed.Error()})
	case errors.Is(err, ledger.ErrNoAccount), errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, report.ErrNoRecords):
		c.JSON(http.StatusNotFound, gin.H{"error": report.ErrNoRecords.Error()})
	case errors.Is(err, ledger.ErrNotFined):
		c.JSON(http.StatusConflict, gin.H{"error": ledger.ErrNotFined.Error()})
	case errors.Is(err, ledger.ErrAccountFull):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ledger.ErrAccountFull.Error()})
	default:
		log.Printf("[API] %s %s request=%s: %v", c.Request.Method, c.FullPath(), c.GetString("request_id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
