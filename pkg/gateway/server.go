// Package gateway serves captured checkpoints over HTTP.
package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type GatewayServer struct {
	addr    string
	engine  *gin.Engine
	srv     *http.Server
	handler *CheckpointHandler
}

func NewGatewayServer(addr string, h *CheckpointHandler) *GatewayServer {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	g := &GatewayServer{
		addr:    addr,
		engine:  engine,
		handler: h,
	}
	g.registerRoutes()

	return g
}

func (g *GatewayServer) registerRoutes() {
	v1 := g.engine.Group("/v1")

	checkpoints := v1.Group("/checkpoints")

	checkpoints.GET("", g.handler.List)
	checkpoints.GET("/:req_id", g.handler.Get)
	// Tensor names may contain slashes
	checkpoints.GET("/:req_id/tensors/*name", g.handler.Tensor)
}

func (g *GatewayServer) Handler() http.Handler {
	return g.engine
}

func (g *GatewayServer) Run() error {
	g.srv = &http.Server{
		Addr:    g.addr,
		Handler: g.engine,
	}
	return g.srv.ListenAndServe()
}

func (g *GatewayServer) Shutdown(ctx context.Context) error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}
