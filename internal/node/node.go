// Package node runs one host chain behind its HTTP API as a long-lived
// process.
package node

import (
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/gin-gonic/gin"
)

// Node is a process serving one chain.
type Node interface {
	NodeID() string
	Kind() string
	Chain() *host.Chain
	HTTPRouter() *gin.Engine
}
