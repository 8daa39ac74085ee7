package server

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/server/middlewares"
	"github.com/mdouchement/chestsync/internal/server/token"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// An IOC is an Iversion Of Control pattern used to init the server package.
type IOC struct {
	Version  string
	Database database.Client
	Hub      *hub.Hub
	// Legacy enables the dual write into the legacy container table.
	Legacy bool
	// PingInterval is the keepalive period of the subscription channel.
	PingInterval time.Duration
}

// EchoEngine instantiates the wep server.
func EchoEngine(ctrl IOC) *echo.Echo {
	engine := echo.New()
	engine.Use(middleware.Recover())
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	engine.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/ws"
		},
	}))

	engine.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${status}] ${method} ${uri} (${bytes_in}) ${latency_human}\n",
	}))
	engine.Binder = middlewares.NewBinder()
	// Error handler
	engine.HTTPErrorHandler = middlewares.HTTPErrorHandler

	////////////
	// Router //
	////////////

	tokens := token.NewManager(ctrl.Database)

	router := engine.Group("")
	restricted := router.Group("")
	restricted.Use(middlewares.Tenant(tokens))

	// generic handlers
	//
	version := func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	}
	// The restricted group catches every unknown path, "/" included.
	router.GET("/", version)
	router.GET("/version", version)
	router.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	//
	// chest handlers
	//
	var legacy service.LegacyWriter
	if ctrl.Legacy {
		legacy = service.NewLegacyTable(ctrl.Database)
	}

	chest := &chest{
		ingest: service.NewIngest(ctrl.Database, ctrl.Hub, legacy),
		query:  service.NewQuery(ctrl.Database),
	}
	restricted.POST("/events", chest.Event)
	restricted.POST("/events/batch", chest.Batch)
	restricted.GET("/chests", chest.List)
	restricted.GET("/chests/recent", chest.Recent)
	restricted.GET("/chests/:x/:y/:z", chest.Get)
	restricted.GET("/chests/:x/:y/:z/history", chest.History)

	//
	// subscription handlers
	//
	subscription := newSubscription(ctrl.Hub, ctrl.PingInterval)
	restricted.GET("/subscribers", subscription.Count)
	restricted.GET("/ws", subscription.Subscribe)

	return engine
}

// PrintRoutes prints the Echo engin exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}

func currentTenant(c echo.Context) string {
	tenantID, ok := c.Get(middlewares.CurrentTenantContextKey).(string)
	if ok {
		return tenantID
	}
	return ""
}
