package api

import (
	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/edge"
	"github.com/samcharles93/ganport/internal/graph"
)

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
}

type ErrorResponse struct {
	Error ResponseError `json:"error"`
}

type BackendInfo struct {
	Tag     backend.Tag `json:"tag"`
	Path    string      `json:"path"`
	Builtin bool        `json:"builtin"`
	Present bool        `json:"present"`
	Loaded  bool        `json:"loaded"`
	Default bool        `json:"default"`
}

type BackendList struct {
	Object      string        `json:"object"`
	Default     backend.Tag   `json:"default"`
	Fingerprint string        `json:"fingerprint"`
	PluginDir   string        `json:"plugin_dir"`
	Data        []BackendInfo `json:"data"`
}

type SetDefaultRequest struct {
	Backend string `json:"backend"`
}

type ModelInfo struct {
	Object     string   `json:"object"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Network    string   `json:"network"`
	BuildFunc  string   `json:"build_func_name"`
	Backend    string   `json:"backend"`
	Producer   string   `json:"producer"`
	Variables  int      `json:"variables"`
	Signatures []string `json:"signatures"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type TensorInfo struct {
	Key   string      `json:"key"`
	Name  string      `json:"name"`
	DType graph.DType `json:"dtype"`
	Shape graph.Shape `json:"shape"`
}

type SignatureInfo struct {
	Key     string       `json:"key"`
	Kind    string       `json:"kind,omitempty"`
	Method  string       `json:"method_name"`
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

type SignatureList struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []SignatureInfo `json:"data"`
}

type ConvertRequest struct {
	Signature string `json:"signature"`
	Output    string `json:"output"`
}

type ConvertResponse struct {
	Object    string            `json:"object"`
	Model     string            `json:"model"`
	Signature string            `json:"signature"`
	File      string            `json:"file"`
	Bytes     int64             `json:"bytes"`
	Nodes     int               `json:"nodes"`
	Constants int               `json:"constants"`
	Inputs    []edge.TensorSpec `json:"inputs"`
	Outputs   []edge.TensorSpec `json:"outputs"`
}
