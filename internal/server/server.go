package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mentorbot/internal/models"
	"mentorbot/internal/repository"
)

// Server exposes a read-only stats API over the same storage the pipeline
// writes to.
type Server struct {
	router       *gin.Engine
	participants repository.ParticipantRepository
	messages     repository.MessageRepository
	knowledge    repository.KnowledgeRepository
	moderation   repository.ModerationRepository
	tags         repository.MentorTagRepository
	logger       *zap.Logger
}

func NewServer(
	participants repository.ParticipantRepository,
	messages repository.MessageRepository,
	knowledge repository.KnowledgeRepository,
	moderation repository.ModerationRepository,
	tags repository.MentorTagRepository,
	logger *zap.Logger,
) *Server {
	router := gin.Default()

	s := &Server{
		router:       router,
		participants: participants,
		messages:     messages,
		knowledge:    knowledge,
		moderation:   moderation,
		tags:         tags,
		logger:       logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := s.router.Group("/api")
	api.GET("/stats", s.getStats)
	api.GET("/moderation/recent", s.getRecentModeration)
	api.GET("/faqs/top", s.getTopFAQs)
}

func (s *Server) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	participants, err := s.participants.Count(ctx)
	if err != nil {
		s.fail(c, "failed to count participants", err)
		return
	}
	messages, err := s.messages.Count(ctx)
	if err != nil {
		s.fail(c, "failed to count messages", err)
		return
	}
	suppressed, err := s.moderation.CountByAction(ctx, models.ActionSuppress)
	if err != nil {
		s.fail(c, "failed to count moderation records", err)
		return
	}
	tags, err := s.tags.Count(ctx)
	if err != nil {
		s.fail(c, "failed to count mentor tags", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"messages":     messages,
		"suppressed":   suppressed,
		"mentor_tags":  tags,
	})
}

func (s *Server) getRecentModeration(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := s.moderation.Recent(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "failed to load moderation records", err)
		return
	}

	type record struct {
		ID          int64   `json:"id"`
		MessageID   int64   `json:"message_id"`
		Action      string  `json:"action"`
		Reason      string  `json:"reason"`
		Confidence  float64 `json:"confidence"`
		Provider    string  `json:"provider"`
		ModeratedAt string  `json:"moderated_at"`
	}
	out := make([]record, 0, len(records))
	for _, r := range records {
		out = append(out, record{
			ID:          r.ID,
			MessageID:   r.MessageID,
			Action:      r.Action,
			Reason:      r.Reason,
			Confidence:  r.Confidence,
			Provider:    r.Provider,
			ModeratedAt: r.ModeratedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) getTopFAQs(c *gin.Context) {
	entries, err := s.knowledge.TopMatched(c.Request.Context(), 10)
	if err != nil {
		s.fail(c, "failed to load top FAQs", err)
		return
	}

	type faq struct {
		ID           int64  `json:"id"`
		Question     string `json:"question"`
		TimesMatched int64  `json:"times_matched"`
	}
	out := make([]faq, 0, len(entries))
	for _, e := range entries {
		out = append(out, faq{ID: e.ID, Question: e.Question, TimesMatched: e.TimesMatched})
	}
	c.JSON(http.StatusOK, gin.H{"faqs": out})
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) {
	s.logger.Info("Stats server starting", zap.String("addr", addr))
	if err := s.router.Run(addr); err != nil {
		s.logger.Fatal("Stats server failed", zap.Error(err))
	}
}
