package routes

import (
	"taskflow/internal/controller"
	"taskflow/internal/middleware"
	"taskflow/internal/queue"
	"taskflow/internal/realtime"
	"taskflow/internal/service"

	"github.com/gin-gonic/gin"
)

// Deps is everything the router can mount. Nil members leave their routes
// out, so consumer-only roles serve just health and push delivery.
type Deps struct {
	Tasks     *service.TaskService
	Trigger   *service.ReminderTrigger
	Push      *queue.Push
	Relay     *realtime.Relay
	Ready     map[string]controller.Pinger
	JWTSecret string
}

func Router(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// Health for load balancers and K8s probes
	router.GET("/health", controller.Health)
	router.GET("/ready", controller.Ready(d.Ready))

	if d.Push != nil {
		router.POST("/events/:topic", controller.NewEvents(d.Push).Deliver)
	}
	if d.Relay != nil {
		router.GET("/ws", func(c *gin.Context) { d.Relay.ServeWS(c.Writer, c.Request) })
	}

	api := router.Group("/api")
	if d.Trigger != nil {
		api.POST("/jobs/trigger", controller.NewJobs(d.Trigger.Fire).Trigger)
	}
	if d.Tasks != nil {
		tasks := controller.NewTasks(d.Tasks)
		// Lookup by id is open so other services can fetch without a caller.
		api.GET("/tasks/:id", tasks.Get)

		authed := api.Group("/tasks")
		authed.Use(middleware.Identity(d.JWTSecret))
		{
			authed.POST("", tasks.Create)
			authed.GET("", tasks.List)
			authed.PATCH("/:id", tasks.Update)
			authed.DELETE("/:id", tasks.Delete)
			authed.POST("/:id/complete", tasks.Complete)
			authed.PUT("/:id/tags", tasks.ReplaceTags)
		}
	}
	return router
}
