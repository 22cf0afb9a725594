// internal/viewer/routes/api_logs.go

package routes

import "github.com/gin-gonic/gin"

func registerAPILogRoutes(api *gin.RouterGroup, d Deps) {
	if d.Logs == nil {
		return
	}
	api.GET("/logs", d.Logs.ServeJSON)
	api.GET("/logs/stream", d.Logs.ServeStream)
}
