// Package webhook receives push detection callbacks over HTTP and
// forwards them to the announcement coordinator.
//
// This is the ingestion path for external detectors (the browser
// scraper, third-party notifiers) that push observations instead of
// being polled.
package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/content"
	"herald/internal/coordinator"
	logx "herald/pkg/logx"
)

// Processor is the coordinator surface this receiver feeds into.
type Processor interface {
	ProcessContent(ctx context.Context, id, source string, it content.Item) coordinator.Result
}

type Config struct {
	Addr string
	// Token is a shared secret required in the X-Herald-Token header.
	Token string
	// Name is the source name attributed to pushed observations when
	// the payload does not carry one.
	Name string
	// AuthorAliases maps scraped display names to stable usernames for
	// repost attribution (configurable, never hardcoded).
	AuthorAliases map[string]string
}

type Service struct {
	cfg  Config
	proc Processor
	log  logx.Logger
	srv  *http.Server
}

// observation is the wire shape accepted on POST /v1/observations.
type observation struct {
	Source        string `json:"source"`
	Platform      string `json:"platform"`
	Category      string `json:"category"`
	ID            string `json:"id"`
	URL           string `json:"url"`
	Author        string `json:"author"`
	DisplayAuthor string `json:"display_author"`
	RepostedBy    string `json:"reposted_by"`
	Text          string `json:"text"`
	PublishedAt   string `json:"published_at"` // RFC 3339
	Title         string `json:"title"`
}

func New(cfg Config, proc Processor, log logx.Logger) *Service {
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, proc: proc, log: log}
}

// Start binds the listen address synchronously so a bad or busy port
// fails app startup instead of leaving a silently dead push path, then
// serves in the background.
func (s *Service) Start(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Addr) == "" {
		return errors.New("webhook addr is empty")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.srv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("webhook server failed", logx.Err(err))
		}
	}()
	s.log.Info("webhook receiver listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.POST("/v1/observations", s.handleObservation)
	return r
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Service) handleObservation(c *gin.Context) {
	if s.cfg.Token != "" && c.GetHeader("X-Herald-Token") != s.cfg.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
		return
	}

	var obs observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	it, err := s.mapObservation(obs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := obs.Source
	if source == "" {
		source = s.cfg.Name
	}

	res := s.proc.ProcessContent(c.Request.Context(), it.ID, source, it)
	status := http.StatusOK
	if res.Action == coordinator.ActionFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func (s *Service) mapObservation(obs observation) (content.Item, error) {
	if obs.ID == "" && obs.URL == "" {
		return content.Item{}, errors.New("observation needs an id or url")
	}

	it := content.Item{
		Platform:      content.Platform(obs.Platform),
		Category:      content.Category(obs.Category),
		ID:            obs.ID,
		URL:           obs.URL,
		Author:        obs.Author,
		DisplayAuthor: obs.DisplayAuthor,
		RepostedBy:    resolveAlias(obs.RepostedBy, s.cfg.AuthorAliases),
		Text:          obs.Text,
		Title:         obs.Title,
	}
	if obs.PublishedAt != "" {
		at, err := time.Parse(time.RFC3339, obs.PublishedAt)
		if err != nil {
			return content.Item{}, errors.New("published_at must be RFC 3339")
		}
		it.PublishedAt = at
	}
	return it, nil
}

func resolveAlias(name string, aliases map[string]string) string {
	if alias, ok := aliases[name]; ok && alias != "" {
		return alias
	}
	return name
}
