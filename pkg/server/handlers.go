// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/health"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/pipeline"
)

type generateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type encodeRequest struct {
	Files json.RawMessage `json:"files" binding:"required"`
}

type decodeRequest struct {
	Artifact string `json:"artifact" binding:"required"`
}

type encodeResponse struct {
	Artifact  string `json:"artifact"`
	DefineURL string `json:"define_url"`
}

func (s *Server) banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "artifacts",
		"version": s.version,
		"message": "Describe a component and get a running sandbox: GET /generate?prompt=...",
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// ready answers 503 only when a component is unhealthy; a degraded
// dependency still serves.
func (s *Server) ready(c *gin.Context) {
	if s.readiness == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.Healthy})
		return
	}
	results, status := s.readiness.Health(c.Request.Context())
	code := http.StatusOK
	if status == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": results})
}

func (s *Server) run(c *gin.Context, prompt string) (*pipeline.Outcome, error) {
	ctx := c.Request.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx, prompt)
}

// generateQuery answers with the preview links only.
func (s *Server) generateQuery(c *gin.Context) {
	prompt := strings.TrimSpace(c.Query("prompt"))
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No prompt provided", "code": errors.CodeInvalidInput})
		return
	}

	out, err := s.run(c, prompt)
	if err != nil {
		body := errorBody(err)
		if out != nil {
			body["run_id"] = out.RunID
			if d := out.Diagnosis(); d != pipeline.DiagnosisNone {
				body["diagnosis"] = d
			}
		}
		c.JSON(errors.StatusCode(errors.CodeOf(err)), body)
		return
	}

	ref := out.Reference
	c.JSON(http.StatusOK, gin.H{
		"run_id":      out.RunID,
		"preview_url": ref.String(),
		"embed_url":   ref.EmbedURL,
		"sandbox_url": ref.URL,
		"define_url":  out.DefineURL,
	})
}

// createArtifact answers with the full run report.
func (s *Server) createArtifact(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.CodeInvalidInput})
		return
	}

	out, err := s.run(c, req.Prompt)
	if out == nil {
		c.JSON(errors.StatusCode(errors.CodeOf(err)), errorBody(err))
		return
	}
	status := http.StatusOK
	if err != nil {
		status = errors.StatusCode(errors.CodeOf(err))
	}
	c.JSON(status, out)
}

func (s *Server) encode(c *gin.Context) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.CodeInvalidInput})
		return
	}
	m, err := manifest.NewValidator().Validate(string(req.Files))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	encoded, defineURL, err := s.runner.Encode(m)
	if err != nil {
		c.JSON(errors.StatusCode(errors.CodeOf(err)), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, encodeResponse{Artifact: encoded, DefineURL: defineURL})
}

func (s *Server) decode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.CodeInvalidInput})
		return
	}
	m, err := artifact.Decode(req.Artifact)
	if err != nil {
		c.JSON(errors.StatusCode(errors.CodeOf(err)), errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": m})
}

func errorBody(err error) gin.H {
	return gin.H{"error": err.Error(), "code": errors.CodeOf(err)}
}
