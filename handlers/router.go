package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"superviseme/config"
	"superviseme/github"
	"superviseme/middleware"
	"superviseme/models"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *slog.Logger
	GitHub *github.Client
	OAuth  *oauth2.Config
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.Config, deps.DB, logger, deps.GitHub, deps.OAuth)
	connectionHandler := NewConnectionHandler(deps.Config, deps.DB, logger)
	repositoryHandler := NewRepositoryHandler(deps.Config, deps.DB, logger, deps.GitHub)
	taskHandler := NewTaskHandler(deps.Config, deps.DB, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes
	router.Post("/api/auth/register", authHandler.Register)
	router.Post("/api/auth/login", authHandler.Login)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)

		// Password change routes (accessible even when password change required)
		r.Get("/api/auth/me", authHandler.Me)
		r.Put("/api/auth/password", authHandler.ChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePasswordChange)

			r.Post("/github-auth", authHandler.GitHubAuth)

			r.Get("/api/supervisors", connectionHandler.ListSupervisors)
			r.Get("/api/supervisors/{email}/availability", connectionHandler.SupervisorAvailability)
			r.Get("/api/connections", connectionHandler.ListConnections)

			r.Get("/api/repositories/search", repositoryHandler.Search)
			r.Get("/api/supervisor/repo-data/{owner}/{name}", repositoryHandler.RepoData)

			r.Get("/api/tasks", taskHandler.ListTasks)
			r.Patch("/api/tasks/{id}/status", taskHandler.UpdateTaskStatus)
			r.Get("/api/reminders", taskHandler.ListReminders)
			r.Patch("/api/reminders/{id}/notified", taskHandler.MarkNotified)

			// Student only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleStudent))
				r.Post("/api/connection-requests", connectionHandler.CreateRequest)
				r.Get("/api/student/status", connectionHandler.StudentStatus)
				r.Post("/api/repositories/save", repositoryHandler.Save)
				r.Post("/api/validate-repository", repositoryHandler.Validate)
				r.Post("/create-team-repo", repositoryHandler.CreateTeamRepo)
			})

			// Supervisor only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleSupervisor))
				r.Get("/api/connection-requests", connectionHandler.ListPending)
				r.Put("/api/connection-requests/{id}", connectionHandler.Decide)
				r.Post("/link-student-repos", repositoryHandler.LinkStudentRepos)
				r.Get("/api/student-repositories/{studentUID}", repositoryHandler.ListForStudent)
				r.Get("/api/supervisor/all-repos", repositoryHandler.AllRepos)
				r.Post("/api/tasks", taskHandler.CreateTask)
				r.Delete("/api/tasks/{id}", taskHandler.DeleteTask)
				r.Post("/api/reminders", taskHandler.CreateReminder)
				r.Delete("/api/reminders/{id}", taskHandler.DeleteReminder)
				r.Get("/api/supervisor/invites", authHandler.ListInvites)
				r.Post("/api/supervisor/invites", authHandler.CreateInvite)
			})
		})
	})

	return router
}
