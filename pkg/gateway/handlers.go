package gateway

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rxanders35/fluxstate/pkg/ledger"
	"github.com/rxanders35/fluxstate/pkg/store"
)

type CheckpointHandler struct {
	ledger *ledger.Ledger
	store  store.Store
}

func NewCheckpointHandler(l *ledger.Ledger, s store.Store) *CheckpointHandler {
	return &CheckpointHandler{
		ledger: l,
		store:  s,
	}
}

func (h *CheckpointHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	cs, err := h.ledger.List(c, limit)
	if err != nil {
		log.Printf("Failed to list checkpoints. Why: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list checkpoints"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cs})
}

func (h *CheckpointHandler) Get(c *gin.Context) {
	cp, err := h.ledger.Get(c, c.Param("req_id"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "checkpoint not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to read checkpoint %s. Why: %v", c.Param("req_id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read checkpoint"})
		return
	}
	c.JSON(http.StatusOK, cp)
}

// Tensor streams a stored tensor's raw bytes. Its dtype code rides along in
// the X-Flux-Dtype header.
func (h *CheckpointHandler) Tensor(c *gin.Context) {
	reqID := c.Param("req_id")
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no tensor name provided"})
		return
	}

	t, err := h.store.Read(reqID, name)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "tensor not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to read tensor %s/%s. Why: %v", reqID, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read tensor"})
		return
	}

	c.Header("X-Flux-Dtype", t.DType.String())
	c.Data(http.StatusOK, "application/octet-stream", t.Data)
}
