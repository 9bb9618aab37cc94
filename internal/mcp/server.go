// Package mcp 通过标准输入输出把时间轴合成能力暴露为 MCP 工具
package mcp

import (
	"context"
	"errors"
	"io"
	"os"

	mcp_server "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

// ServerName MCP 服务名
const ServerName = "timeline-synth-server"

type Server struct {
	server    *mcp_server.MCPServer
	processor *workflow.Processor
	logger    *zap.Logger
	handler   *Handler
}

func NewServer(processor *workflow.Processor, logger *zap.Logger) (*Server, error) {
	if processor == nil {
		return nil, errors.New("mcp: processor is required")
	}
	mcpServer := mcp_server.NewMCPServer(
		ServerName,
		"1.0.0",
		mcp_server.WithToolCapabilities(true),
		mcp_server.WithRecovery(),
	)

	s := &Server{
		server:    mcpServer,
		processor: processor,
		logger:    logger,
	}
	s.handler = NewHandler(s.server, processor, logger)
	s.handler.RegisterTools()
	return s, nil
}

// Start 在标准输入输出上服务，直到 ctx 取消或输入结束
func (s *Server) Start(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve 在给定的读写端上服务
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcp_server.NewStdioServer(s.server)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Failed to start MCP server", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) GetToolNames() []string {
	return s.handler.GetToolNames()
}

// GetHandler 返回处理器，用于直接调用工具
func (s *Server) GetHandler() *Handler {
	return s.handler
}
