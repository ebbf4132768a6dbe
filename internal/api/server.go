// Package api serves the backend registry and the interchange models under
// a directory over HTTP, and converts models to edge artifacts on request.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/edge"
	"github.com/samcharles93/ganport/internal/logger"
	"github.com/samcharles93/ganport/internal/savedmodel"
)

type Config struct {
	// ModelsDir holds one interchange artifact per subdirectory.
	ModelsDir string
	// OutputDir receives converted edge artifacts. Empty means ModelsDir.
	OutputDir string
	Selector  *backend.Selector
	Registry  *plugin.Registry
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.ModelsDir
	}
	if cfg.Selector == nil {
		cfg.Selector = backend.NewSelector("")
	}
	if cfg.Registry == nil {
		cfg.Registry = plugin.NewRegistry()
	}
	return &Server{cfg: cfg}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", func(c *echo.Context) error { return c.String(http.StatusOK, "ok") })

	e.GET("/v1/backends", s.handleListBackends)
	e.PUT("/v1/backends/default", s.handleSetDefaultBackend)

	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/:name", s.handleGetModel)
	e.GET("/v1/models/:name/signatures", s.handleListSignatures)
	e.POST("/v1/models/:name/convert", s.handleConvert)
}

func (s *Server) backendList() BackendList {
	def := s.cfg.Selector.Default()
	out := BackendList{
		Object:      "list",
		Default:     def,
		Fingerprint: plugin.Fingerprint(),
		PluginDir:   s.cfg.Registry.Dir(),
	}
	for _, a := range s.cfg.Registry.Available() {
		out.Data = append(out.Data, BackendInfo{
			Tag:     a.Tag,
			Path:    a.Path,
			Builtin: a.Builtin,
			Present: a.Present,
			Loaded:  a.Loaded,
			Default: a.Tag == def,
		})
	}
	return out
}

func (s *Server) handleListBackends(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.backendList())
}

func (s *Server) handleSetDefaultBackend(c *echo.Context) error {
	req, err := decodeJSON[SetDefaultRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	tag := backend.Normalize(req.Backend)
	if tag == "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "backend is required", "backend")
	}
	s.cfg.Selector.SetDefault(tag)
	logger.FromContext(c.Request().Context()).Info("default backend changed", "backend", tag)
	return c.JSON(http.StatusOK, s.backendList())
}

func (s *Server) modelDir(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.cfg.ModelsDir, name), nil
}

func (s *Server) loadModel(name string) (*savedmodel.Artifact, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, err
	}
	return savedmodel.Load(dir)
}

func modelInfo(name string, a *savedmodel.Artifact) ModelInfo {
	return ModelInfo{
		Object:     "model",
		ID:         a.Meta.ID,
		Name:       name,
		Network:    a.Meta.Network,
		BuildFunc:  a.Meta.BuildFunc,
		Backend:    a.Meta.Backend,
		Producer:   a.Meta.Producer,
		Variables:  len(a.Variables),
		Signatures: a.SignatureKeys(),
	}
}

func (s *Server) handleListModels(c *echo.Context) error {
	log := logger.FromContext(c.Request().Context())
	names, err := savedmodel.List(s.cfg.ModelsDir)
	if err != nil && !os.IsNotExist(err) {
		return writeFailure(c, err)
	}
	out := ModelList{Object: "list", Data: []ModelInfo{}}
	for _, name := range names {
		a, err := s.loadModel(name)
		if err != nil {
			log.Warn("skipping model", "name", name, "err", err)
			continue
		}
		out.Data = append(out.Data, modelInfo(name, a))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetModel(c *echo.Context) error {
	name := c.Param("name")
	a, err := s.loadModel(name)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, modelInfo(name, a))
}

func (s *Server) handleListSignatures(c *echo.Context) error {
	name := c.Param("name")
	a, err := s.loadModel(name)
	if err != nil {
		return writeFailure(c, err)
	}
	out := SignatureList{Object: "list", Model: name}
	for _, key := range a.SignatureKeys() {
		sig, _ := a.Signature(key)
		info := SignatureInfo{Key: key, Method: sig.MethodName}
		if k, err := edge.ParseSignature(key); err == nil {
			info.Kind = k.String()
		}
		for _, k := range sig.InputKeys() {
			t := sig.Inputs[k]
			info.Inputs = append(info.Inputs, TensorInfo{Key: k, Name: t.Name, DType: t.DType, Shape: t.Shape})
		}
		for _, k := range sig.OutputKeys() {
			t := sig.Outputs[k]
			info.Outputs = append(info.Outputs, TensorInfo{Key: k, Name: t.Name, DType: t.DType, Shape: t.Shape})
		}
		out.Data = append(out.Data, info)
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Key < out.Data[j].Key })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleConvert(c *echo.Context) error {
	name := c.Param("name")
	dir, err := s.modelDir(name)
	if err != nil {
		return writeFailure(c, err)
	}
	req, err := decodeJSON[ConvertRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	output := strings.TrimSpace(req.Output)
	if output == "" {
		output = name
	}
	if err := validName(output); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "output")
	}

	res, err := edge.Convert(c.Request().Context(), dir, filepath.Join(s.cfg.OutputDir, output), req.Signature)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, ConvertResponse{
		Object:    "edge.artifact",
		Model:     name,
		Signature: res.Kind.String(),
		File:      filepath.Base(res.Path),
		Bytes:     res.Bytes,
		Nodes:     res.Nodes,
		Constants: res.Constants,
		Inputs:    res.Inputs,
		Outputs:   res.Outputs,
	})
}
