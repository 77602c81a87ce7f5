// Package node runs hub and spoke daemons.
//
// Ownership boundary:
// - opening the configured store and instantiating the contract
//
// - the link listener (hub) or reconnecting link client (spoke)
//
// - the HTTP surface and mDNS advertisement or lookup
//
// - process lifetime: Start binds, Wait blocks, Run adds signal handling
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const shutdownTimeout = 5 * time.Second

var (
	ErrAlreadyStarted = errors.New("node: already started")
	ErrNotStarted     = errors.New("node: not started")
)

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

func defaultNodeID(kind string) string {
	return kind + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func listenHTTP(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	return &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}, ln, nil
}

func shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func portOf(addr net.Addr) (int, error) {
	_, raw, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}
