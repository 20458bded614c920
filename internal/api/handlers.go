package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"sige/internal/catalog"
	"sige/internal/config"
	"sige/internal/pg"
	"sige/internal/plan"
	"sige/internal/probe"
)

// ===== META HANDLERS =====

type metaTableListItem struct {
	Table   string `json:"table"`
	Tenancy string `json:"tenancy"`
	Columns int    `json:"columns"`
}

// GET /api/meta — сводка каталога: таблица, класс, число колонок.
func MetaListHandler(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]metaTableListItem, 0, len(cat.Tables()))
		for _, t := range cat.Tables() {
			out = append(out, metaTableListItem{
				Table:   t.Name,
				Tenancy: string(t.Tenancy),
				Columns: len(t.Columns),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/meta/:table — полное объявление одной таблицы каталога.
func MetaTableHandler(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := cat.Find(c.Param("table"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"table":        t.Name,
			"tenancy":      t.Tenancy,
			"columns":      t.Columns,
			"primary_key":  t.PrimaryKey,
			"foreign_keys": t.ForeignKeys,
			"indexes":      t.Indexes,
			"backfill":     t.Backfill.Kind(),
			"drop_columns": t.DropColumns,
		})
	}
}

// ===== SCHEMA / PLAN =====

// GET /api/schema — наблюдаемая схема как есть, из information_schema.
func SchemaHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		obs, err := pg.Inspect(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, obs.Tables)
	}
}

type planUnit struct {
	Number int      `json:"number"`
	Name   string   `json:"name"`
	Steps  []string `json:"steps"`
}

// GET /api/plan — что раннер сделал бы сейчас. Ничего не исполняет.
func PlanHandler(db *sql.DB, cat *catalog.Catalog, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		obs, err := pg.Inspect(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		p, err := plan.Build(cat, obs, plan.Options{DefaultTenantID: cfg.DefaultTenantID})
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		out := make([]planUnit, 0, len(p.Units))
		for _, u := range p.Units {
			steps := make([]string, 0, len(u.Steps))
			for _, s := range u.Steps {
				steps = append(steps, s.String())
			}
			out = append(out, planUnit{Number: u.Number, Name: u.Name, Steps: steps})
		}
		c.JSON(http.StatusOK, gin.H{"empty": p.Empty(), "units": out})
	}
}

// ===== PROBE / HEALTH =====

// GET /api/probe — полный отчёт покрытия в JSON.
func ProbeHandler(db *sql.DB, cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := probe.Run(c.Request.Context(), db, cat)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// GET /healthz — для контейнерных health-check'ов: 200 только если probe ok.
func HealthHandler(db *sql.DB, cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := probe.Run(c.Request.Context(), db, cat)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
			return
		}
		if !rep.OK {
			c.JSON(http.StatusServiceUnavailable, rep)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}
