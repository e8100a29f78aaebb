package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFindingsHandler upgrades the connection and hands it to the
// findings stream hub. The hub owns the connection from here on.
func (s *HTTP) wsFindingsHandler(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("findings stream upgrade failed")
		return
	}
	s.service.Report().Hub().Serve(conn)
}
