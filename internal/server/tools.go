package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type toolView struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MinInputs    int      `json:"minInputs"`
	MaxInputs    int      `json:"maxInputs"`
	AllowedMIMEs []string `json:"allowedMimeTypes"`
}

// handleListTools は GET /api/tools のハンドラーです。
func (s *Server) handleListTools(c *gin.Context) {
	names := s.registry.Names()
	views := make([]toolView, 0, len(names))
	for _, name := range names {
		tool, ok := s.registry.Lookup(name)
		if !ok {
			continue
		}
		spec := tool.Spec()
		views = append(views, toolView{
			Name:         name,
			Description:  spec.Description,
			MinInputs:    spec.MinInputs,
			MaxInputs:    spec.MaxInputs,
			AllowedMIMEs: spec.AllowedMIMEs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": views})
}
