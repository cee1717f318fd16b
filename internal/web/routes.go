package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	d := s.deps
	identitiesHandler := handlers.NewIdentitiesHandler(d.Registry, d.Embeddings, d.Samples, d.Enroller, d.OnEnrolled, s.log)
	matchHandler := handlers.NewMatchHandler(d.Matcher, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(d.Attendance, s.log)
	logsHandler := handlers.NewLogsHandler(d.Logs, s.log)
	sessionsHandler := handlers.NewSessionsHandler(d.Sessions, d.NewSession, recognition.Config{
		CameraID:   s.config.Recognition.CameraID,
		Cooldown:   s.config.Recognition.Cooldown,
		OverlapIoU: s.config.Recognition.OverlapIoU,
	}, s.config.Web.FramesRoot, s.log)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Event streams are long lived and stay outside the request timeout.
		r.Get("/sessions/{id}/events", sessionsHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(constants.RequestTimeout))

			// Identities
			r.Post("/identities", identitiesHandler.Create)
			r.Get("/identities", identitiesHandler.List)
			r.Get("/identities/{id}", identitiesHandler.Get)
			r.Post("/identities/{id}/deactivate", identitiesHandler.Deactivate)
			r.Post("/identities/{id}/activate", identitiesHandler.Activate)
			r.Post("/identities/{id}/enroll", identitiesHandler.Enroll)
			r.Get("/identities/{id}/embeddings", identitiesHandler.Embeddings)
			r.Get("/embeddings/stats", identitiesHandler.EmbeddingStats)

			// Matching
			r.Post("/match", matchHandler.Match)

			// Attendance
			r.Post("/attendance", attendanceHandler.Mark)
			r.Get("/attendance", attendanceHandler.List)
			r.Patch("/attendance", attendanceHandler.UpdateStatus)

			// Recognition sessions
			r.Post("/sessions", sessionsHandler.Start)
			r.Get("/sessions", sessionsHandler.List)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Delete("/sessions/{id}", sessionsHandler.Stop)
			r.Post("/sessions/{id}/reset-cooldown", sessionsHandler.ResetCooldown)

			// Recognition logs
			r.Get("/recognition-logs/stats", logsHandler.Stats)
		})
	})
}
