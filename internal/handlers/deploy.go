package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/services"
)

// multipartOverhead is the allowance for form fields on top of the archive
const multipartOverhead = 1 << 20

// Deployer admits deploys and reports their progress
type Deployer interface {
	Submit(ctx context.Context, req services.SubmitRequest) (string, error)
	Status(deployID string) (models.DeployStatus, error)
}

// DeployHandler handles deploy submission and status polling
type DeployHandler struct {
	deploys         Deployer
	maxArchiveBytes int64
}

// NewDeployHandler creates a new deploy handler
func NewDeployHandler(deploys Deployer, maxArchiveBytes int64) *DeployHandler {
	return &DeployHandler{
		deploys:         deploys,
		maxArchiveBytes: maxArchiveBytes,
	}
}

// Submit handles POST /deploy. The archive arrives in the "tarball" form
// file, the metadata in plain form fields.
func (h *DeployHandler) Submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxArchiveBytes+multipartOverhead)

	file, _, err := c.Request.FormFile("tarball")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": fmt.Sprintf("Missing or unreadable tarball: %v", err),
		})
		return
	}
	defer file.Close()

	// one byte past the limit is enough for the service to reject it
	archive, err := io.ReadAll(io.LimitReader(file, h.maxArchiveBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": fmt.Sprintf("Failed to read tarball: %v", err),
		})
		return
	}

	id, err := h.deploys.Submit(c.Request.Context(), services.SubmitRequest{
		Archive: archive,
		Meta: models.DeployMeta{
			Name:           c.PostForm("name"),
			Framework:      c.PostForm("framework"),
			PackageManager: c.PostForm("packageManager"),
			StartCommand:   c.PostForm("startCommand"),
			GitCommit:      c.PostForm("gitCommit"),
			GitAuthor:      c.PostForm("gitAuthor"),
		},
		Caller: middleware.CallerFrom(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, models.DeployAcceptedResponse{
		DeployID:  id,
		Name:      c.PostForm("name"),
		StatusURL: "/deploy/" + id + "/status",
	})
}

// Status handles GET /deploy/:id/status
func (h *DeployHandler) Status(c *gin.Context) {
	st, err := h.deploys.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
