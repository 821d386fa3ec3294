package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-recruiter/internal/config"
)

// GET /health
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GET /config
func configHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only return non-sensitive config fields
		c.JSON(http.StatusOK, gin.H{
			"server": gin.H{
				"host":    cfg.Server.Host,
				"port":    cfg.Server.Port,
				"subpath": cfg.Server.Subpath,
			},
			"store": gin.H{
				"driver": cfg.Store.Driver,
			},
			"llm": gin.H{
				"backend":       cfg.LLM.Backend,
				"name":          cfg.LLM.Name,
				"history_turns": cfg.LLM.HistoryTurns,
			},
		})
	}
}
