package routes

import (
	"time"

	"chama-engine/internal/adapters/cache"
	"chama-engine/internal/adapters/http/handlers"
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/config"
	"chama-engine/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the services the HTTP surface is built on
type Deps struct {
	Config       *config.Config
	Log          *zap.Logger
	Idempotency  cache.IdempotencyStore
	Gatherer     prometheus.Gatherer
	Dependencies map[string]handlers.Dependency

	Auth          *services.AuthService
	Users         *services.UserService
	Groups        *services.GroupService
	Cycles        *services.CycleService
	Loans         *services.LoanService
	Meetings      *services.MeetingService
	Settlement    *services.SettlementService
	Notifications *services.NotificationService
	Dashboard     *services.DashboardService
	Cron          *services.CronService
}

type handlerSet struct {
	health        *handlers.HealthHandler
	auth          *handlers.AuthHandler
	users         *handlers.UserHandler
	groups        *handlers.GroupHandler
	cycles        *handlers.CycleHandler
	loans         *handlers.LoanHandler
	meetings      *handlers.MeetingHandler
	payments      *handlers.PaymentHandler
	notifications *handlers.NotificationHandler
	dashboard     *handlers.DashboardHandler
	checks        *handlers.ChecksHandler
}

// Setup configures all routes for the application
func Setup(app *fiber.App, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := handlerSet{
		health:        handlers.NewHealthHandler(d.Config.AppMode, d.Dependencies),
		auth:          handlers.NewAuthHandler(d.Auth, d.Config, log),
		users:         handlers.NewUserHandler(d.Users, log),
		groups:        handlers.NewGroupHandler(d.Groups, d.Cycles, log),
		cycles:        handlers.NewCycleHandler(d.Cycles, log),
		loans:         handlers.NewLoanHandler(d.Loans, log),
		meetings:      handlers.NewMeetingHandler(d.Meetings, log),
		payments:      handlers.NewPaymentHandler(d.Settlement, log),
		notifications: handlers.NewNotificationHandler(d.Notifications, log),
		dashboard:     handlers.NewDashboardHandler(d.Dashboard, log),
		checks:        handlers.NewChecksHandler(d.Cron, log),
	}

	// Health, metrics and docs are public
	app.Get("/", h.health.Root)
	app.Get("/health", h.health.HealthCheck)
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	app.Get("/swagger/*", swagger.HandlerDefault)

	apiV1 := app.Group("/api/v1", middleware.NoCacheHeaders())
	apiV1.Get("/", h.health.APIInfo)

	ttl := d.Config.Redis.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	setupAuthRoutes(apiV1.Group("/auth"), h, d.Config)
	setupPaymentRoutes(apiV1.Group("/payments"), h, d, ttl, log)

	// Everything below requires a valid access token
	protected := apiV1.Group("", middleware.AuthMiddleware(d.Config))
	if d.Idempotency != nil {
		protected.Use(middleware.Idempotency(d.Idempotency, ttl, log))
	}
	setupUserRoutes(protected.Group("/users"), h)
	setupMeRoutes(protected.Group("/me"), h)
	setupGroupRoutes(protected.Group("/groups"), h)
	setupCycleRoutes(protected.Group("/cycles"), h)
	protected.Post("/penalties/:id/settle", h.cycles.SettlePenalty)
	setupLoanRoutes(protected.Group("/loans"), h)
	setupMeetingRoutes(protected.Group("/meetings"), h)
	protected.Get("/memberships/:id/eligibility", h.loans.Eligibility)
	protected.Post("/checks/run", h.checks.Run)
	protected.Get("/admin/dashboard", middleware.AdminOnly(), h.dashboard.GetAdminDashboard)
	protected.Get("/secretary/dashboard", h.dashboard.GetSecretaryDashboard)
}

func setupAuthRoutes(router fiber.Router, h handlerSet, cfg *config.Config) {
	router.Post("/register", middleware.AuthRateLimiter(), h.auth.Register)
	router.Post("/login", middleware.AuthRateLimiter(), h.auth.Login)
	router.Post("/refresh", h.auth.RefreshToken)
	router.Post("/logout", h.auth.Logout)

	router.Post("/logout-all", middleware.AuthMiddleware(cfg), h.auth.LogoutAll)
	router.Get("/me", middleware.AuthMiddleware(cfg), h.auth.Me)
}

func setupPaymentRoutes(router fiber.Router, h handlerSet, d Deps, ttl time.Duration, log *zap.Logger) {
	router.Use(middleware.CallbackAuth(d.Config.Payment.CallbackToken))
	if d.Idempotency != nil {
		router.Post("/callback", middleware.CallbackOnce(d.Idempotency, ttl, handlers.CallbackKey, log), h.payments.Callback)
		router.Post("/mpesa/result", middleware.CallbackOnce(d.Idempotency, ttl, handlers.MpesaResultKey, log), h.payments.MpesaResult)
		return
	}
	router.Post("/callback", h.payments.Callback)
	router.Post("/mpesa/result", h.payments.MpesaResult)
}

func setupUserRoutes(router fiber.Router, h handlerSet) {
	router.Get("/", h.users.ListUsers)
	router.Get("/:id", h.users.GetUser)
	router.Put("/:id", h.users.UpdateUser)
	router.Delete("/:id", h.users.DeleteUser)
}

func setupMeRoutes(router fiber.Router, h handlerSet) {
	router.Get("/profile", h.users.GetProfile)
	router.Put("/profile", h.users.UpdateProfile)
	router.Put("/password", h.users.ChangePassword)
	router.Get("/dashboard", h.dashboard.GetMemberDashboard)
	router.Get("/notifications", h.notifications.List)
	router.Get("/notifications/unread-count", h.notifications.UnreadCount)
	router.Patch("/notifications/:id/read", h.notifications.MarkRead)
}

func setupGroupRoutes(router fiber.Router, h handlerSet) {
	router.Post("/", h.groups.CreateGroup)
	router.Get("/", h.groups.ListGroups)
	router.Get("/:id", h.groups.GetGroup)
	router.Get("/:id/dashboard", h.dashboard.GetGroupDashboard)
	router.Get("/:id/members", h.groups.Members)
	router.Post("/:id/members", h.groups.AddMember)
	router.Patch("/:id/members/:memberId", h.groups.UpdateMemberStatus)
	router.Get("/:id/rotation", h.groups.Rotation)
	router.Put("/:id/rotation", h.groups.SetRotation)
	router.Get("/:id/cycles", h.groups.ListCycles)
	router.Post("/:id/cycles", h.groups.OpenCycle)
	router.Get("/:id/penalties", h.groups.Penalties)
	router.Get("/:id/meetings", h.meetings.List)
	router.Post("/:id/meetings", h.meetings.Schedule)
}

func setupCycleRoutes(router fiber.Router, h handlerSet) {
	router.Get("/:id", h.cycles.GetCycle)
	router.Get("/:id/contributions", h.cycles.Contributions)
	router.Post("/:id/contributions", h.cycles.RecordContribution)
	router.Post("/:id/contributions/:contributionId/fail", h.cycles.FailContribution)
	router.Get("/:id/payout-quote", h.cycles.PayoutQuote)
	router.Get("/:id/payout", h.cycles.Payout)
	router.Post("/:id/payout/retry", h.cycles.RetryPayout)
	router.Post("/:id/close", h.cycles.CloseCycle)
}

func setupLoanRoutes(router fiber.Router, h handlerSet) {
	router.Post("/", h.loans.Apply)
	router.Get("/", h.loans.ListLoans)
	router.Get("/:id", h.loans.GetLoan)
	router.Post("/:id/guarantors/:guarantorId/respond", h.loans.RespondGuarantor)
	router.Post("/:id/review", h.loans.Review)
	router.Post("/:id/disburse", h.loans.Disburse)
	router.Post("/:id/disburse/retry", h.loans.RetryDisbursement)
	router.Get("/:id/repayments", h.loans.Repayments)
	router.Post("/:id/repayments", h.loans.RecordRepayment)
}

func setupMeetingRoutes(router fiber.Router, h handlerSet) {
	router.Get("/:id", h.meetings.Get)
	router.Post("/:id/start", h.meetings.Start)
	router.Post("/:id/complete", h.meetings.Complete)
	router.Post("/:id/cancel", h.meetings.Cancel)
	router.Put("/:id/minutes", h.meetings.RecordMinutes)
	router.Get("/:id/attendance", h.meetings.Attendance)
	router.Post("/:id/attendance", h.meetings.RecordAttendance)
}
