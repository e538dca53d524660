package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lfs-hub/lfs-hub/internal/config"
	"github.com/lfs-hub/lfs-hub/internal/fetch"
	"github.com/lfs-hub/lfs-hub/internal/version"
)

// RegisterDiagnostics 暴露 /-/ 前缀的诊断接口，供运维探活与观察在途下载。
func RegisterDiagnostics(app *fiber.App, cfg *config.Config, fetcher *fetch.Fetcher) {
	if app == nil || cfg == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"version":         version.Full(),
			"cache_root":      cfg.CacheRoot,
			"fast_path_hosts": cfg.FastPathHosts,
		}
		if fetcher != nil {
			payload["inflight_fetches"] = fetcher.Active()
		}
		return c.JSON(payload)
	})
}
