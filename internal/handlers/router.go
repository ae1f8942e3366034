package handlers

import (
	"net/http"
	"time"

	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/middleware"
	"go-pos-ledger/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	Tokens            middleware.TokenValidator
	Idempotency       cache.IdempotencyStore
	IdempotencyTTL    time.Duration
	AllowRegistration bool
	AllowedOrigins    []string
	Gatherer          prometheus.Gatherer
}

// NewRouter mounts every route on a fresh gin engine.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	// Strict bodies: unknown fields are errors, free-form numbers stay exact.
	binding.EnableDecoderDisallowUnknownFields = true
	binding.EnableDecoderUseNumber = true

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(h.Log), middleware.RequestLogger(h.Log))

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderIdempotencyKey, middleware.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	r.POST("/login", h.Login)
	// Registration is a feature flag; keep it off in production.
	if opts.AllowRegistration {
		r.POST("/register", h.Register)
	}

	idem := middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL, h.Log)

	// --- PROTECTED ROUTES ---
	api := r.Group("/api", middleware.Auth(opts.Tokens, h.Log))
	{
		// STAFF & ADMIN
		api.GET("/products", h.GetProducts)
		api.GET("/products/scan/:barcode", h.ScanProduct)
		api.POST("/sales", idem, h.SettleSale)
		api.POST("/checkout", idem, h.Checkout)
		api.GET("/sales/:id", h.GetSale)

		// ADMIN ONLY
		admin := api.Group("", middleware.RequireRole(h.Log, models.RoleAdmin))
		{
			admin.POST("/products", h.AddProduct)
			admin.PUT("/products/:id", h.UpdateProduct)
			admin.DELETE("/products/:id", h.DeleteProduct)
			admin.POST("/products/:id/batches", h.ReceiveStock)
			admin.GET("/products/:id/batches", h.ListBatches)

			admin.GET("/reports/daily", h.DailyFinancials)
			admin.GET("/reports/sales", h.SalesReport)
			admin.GET("/reports/top-profit", h.TopProfitMakers)
			admin.GET("/reports/low-stock", h.LowStock)
			admin.GET("/reports/near-expiry", h.NearExpiry)
			admin.GET("/reports/dashboard", h.Dashboard)
			admin.GET("/reports/valuation", h.StockValuation)

			admin.POST("/alerts/refresh", h.RefreshAlerts)
			admin.GET("/alerts", h.ListAlerts)
			admin.POST("/alerts/:id/view", h.MarkAlertViewed)

			admin.POST("/purchase-orders", h.CreatePurchaseOrder)
			admin.GET("/purchase-orders", h.ListPurchaseOrders)
			admin.GET("/purchase-orders/:id", h.GetPurchaseOrder)
			admin.POST("/purchase-orders/:id/items", h.AddPurchaseOrderItem)
			admin.POST("/purchase-orders/:id/send", h.SendPurchaseOrder)
			admin.POST("/purchase-orders/:id/receive", h.ReceivePurchaseOrder)

			admin.POST("/advisor/summary", h.AdvisorSummary)
			admin.POST("/advisor/ask", h.AskAdvisor)

			admin.DELETE("/users/:id", h.RemoveUser)
			admin.GET("/system/status", h.SystemStatus)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
	})
	return r
}
