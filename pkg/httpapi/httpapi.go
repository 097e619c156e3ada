// Package httpapi is the thin gin-based wiring layer exposing the
// dispatch engine over the client-facing HTTP surface: it performs
// request decoding, status-code mapping, and SSE chunk synthesis, and
// contains no dispatch logic of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/dispatch"
	"github.com/redisnotbluedev/llm-gateway/pkg/gwerrors"
	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/persistence"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

// Server owns the gin engine and the components it wires together.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Metrics    *metrics.Global
	log        *logrus.Entry

	engine *gin.Engine
}

// New builds a Server and registers its routes.
func New(d *dispatch.Dispatcher, reg *registry.Registry, globalMetrics *metrics.Global, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{Dispatcher: d, Registry: reg, Metrics: globalMetrics, log: log}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(log))
	s.routes()
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Info("http request")
	}
}

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/chat/completions", s.handleChatCompletions)
	v1.GET("/models", s.handleListModels)
	v1.GET("/providers/stats", s.handleProviderStats)
	v1.GET("/health", s.handleHealth)
}

// chatCompletionRequest is the wire shape of POST /v1/chat/completions.
type chatCompletionRequest struct {
	Model               string                `json:"model" binding:"required"`
	Messages            []provider.Message    `json:"messages" binding:"required"`
	Temperature         *float64              `json:"temperature"`
	TopP                *float64              `json:"top_p"`
	MaxTokens           *int                  `json:"max_tokens"`
	MaxCompletionTokens *int                  `json:"max_completion_tokens"`
	Stop                stopField             `json:"stop"`
	Stream              bool                  `json:"stream"`
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", err.Error()))
		return
	}

	resp, err := s.Dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		ModelID:  req.Model,
		Messages: req.Messages,
		Params: provider.Params{
			Temperature:         req.Temperature,
			TopP:                req.TopP,
			MaxTokens:           req.MaxTokens,
			MaxCompletionTokens: req.MaxCompletionTokens,
			Stop:                []string(req.Stop),
			Stream:              req.Stream,
		},
	})
	if err != nil {
		s.writeDispatchError(c, err)
		return
	}

	if req.Stream {
		writeStreamedResponse(c, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gwerrors.ErrRegistryUninit):
		c.JSON(http.StatusInternalServerError, errorBody("REGISTRY_UNINITIALIZED", err.Error()))
	case errors.Is(err, gwerrors.ErrModelNotFound):
		c.JSON(http.StatusNotFound, errorBody("MODEL_NOT_FOUND", err.Error()))
	default:
		var de *gwerrors.DispatchError
		if errors.As(err, &de) {
			c.JSON(de.StatusCode, errorBody(de.Code, de.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", err.Error()))
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// writeStreamedResponse synthesizes a single-chunk SSE stream from a
// non-streaming dispatch result, following the OpenAI wire convention.
func writeStreamedResponse(c *gin.Context, resp *dispatch.Response) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	chunk := streamChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Created: resp.Created,
		Model:   resp.Model,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		chunk.Choices = []streamChoice{{
			Index:        choice.Index,
			Delta:        provider.Message{Role: choice.Message.Role, Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		}}
	}

	c.Status(http.StatusOK)
	payload, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	c.Writer.WriteString("data: ")
	c.Writer.Write(payload)
	c.Writer.WriteString("\n\n")
	c.Writer.Flush()
	c.Writer.WriteString("data: [DONE]\n\n")
	c.Writer.Flush()
}

type streamChoice struct {
	Index        int              `json:"index"`
	Delta        provider.Message `json:"delta"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

type streamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
}

func (s *Server) handleListModels(c *gin.Context) {
	models := s.Registry.ListModels()
	out := make([]interface{}, 0, len(models))
	for _, m := range models {
		out = append(out, m.ToDictObject())
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}

func (s *Server) handleProviderStats(c *gin.Context) {
	models := s.Registry.ListModels()
	c.JSON(http.StatusOK, gin.H{"providers": persistence.ExtractProviderMetrics(models)})
}

func (s *Server) handleHealth(c *gin.Context) {
	models := s.Registry.ListModels()
	instances := make([]gin.H, 0)
	for _, m := range models {
		for _, inst := range m.Instances {
			snap := inst.Snapshot()
			instances = append(instances, gin.H{
				"model":           m.ID,
				"provider":        snap.Name,
				"enabled":         snap.Enabled,
				"health_score":    snap.HealthScore,
				"circuit_breaker": snap.CircuitBreaker.State,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"global":    s.Metrics.Snapshot(),
		"providers": instances,
		"breakers":  s.Registry.Breakers.Snapshot(),
	})
}
