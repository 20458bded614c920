// api/router.go
package api

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"sige/internal/catalog"
	"sige/internal/config"
)

// RunServer поднимает read-only диагностический сервер. Вызывается только
// после успешного бутстрапа, поэтому схема под сокетом уже сошлась.
func RunServer(addr string, db *sql.DB, cat *catalog.Catalog, cfg config.Config) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/healthz", HealthHandler(db, cat))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(cat))
		apiGroup.GET("/meta/:table", MetaTableHandler(cat))
		apiGroup.GET("/schema", SchemaHandler(db))
		apiGroup.GET("/plan", PlanHandler(db, cat, cfg))
		apiGroup.GET("/probe", ProbeHandler(db, cat))
	}

	return r.Run(addr)
}
