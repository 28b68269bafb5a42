package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/gin-gonic/gin"
)

func (s *Server) listChannels(c *gin.Context) {
	list, err := s.chain.Channels().List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": list})
}

func (s *Server) getChannel(c *gin.Context) {
	info, err := s.chain.Channels().Get(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) listCollections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collections": s.chain.Registry().Collections()})
}

func (s *Server) listTokens(c *gin.Context) {
	tokens, err := s.chain.Registry().Tokens(c.Param("contract"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) getToken(c *gin.Context) {
	contract, tokenID := c.Param("contract"), c.Param("token")
	owner, err := s.chain.Registry().OwnerOf(contract, tokenID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, host.Token{Contract: contract, TokenID: tokenID, Owner: owner})
}

func (s *Server) pendingPackets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packets": s.chain.PendingPackets()})
}

func (s *Server) listEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.chain.Events()})
}

func (s *Server) deriveVoucher(c *gin.Context) {
	scheme, err := voucher.ParseScheme(c.Query("scheme"))
	if err != nil {
		fail(c, err)
		return
	}
	channelID, collection, tokenID := c.Query("channel"), c.Query("collection"), c.Query("token_id")
	c.JSON(http.StatusOK, gin.H{
		"voucher_id": voucher.Deriver{Scheme: scheme}.Derive(channelID, collection, tokenID),
		"scheme":     scheme,
	})
}

type collectionRequest struct {
	Contract string `json:"contract" binding:"required"`
	Minter   string `json:"minter" binding:"required"`
}

func (s *Server) createCollection(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.chain.Registry().CreateCollection(req.Contract, req.Minter); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contract": req.Contract, "minter": req.Minter})
}

type tokenRequest struct {
	Sender    string `json:"sender" binding:"required"`
	TokenID   string `json:"token_id" binding:"required"`
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
}

func (s *Server) mintToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contract := c.Param("contract")
	if err := s.chain.Mint(req.Sender, contract, req.TokenID, req.Owner); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, host.Token{Contract: contract, TokenID: req.TokenID, Owner: req.Owner})
}

func (s *Server) transferToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contract := c.Param("contract")
	if err := s.chain.TransferToken(req.Sender, contract, req.TokenID, req.Recipient); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, host.Token{Contract: contract, TokenID: req.TokenID, Owner: req.Recipient})
}

type channelRequest struct {
	Channel             channel.Channel `json:"channel"`
	CounterpartyVersion string          `json:"counterparty_version"`
}

func (s *Server) openChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	version, err := s.chain.OpenChannel(c.Request.Context(), req.Channel, req.CounterpartyVersion)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (s *Server) connectChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.chain.ConnectChannel(c.Request.Context(), req.Channel, req.CounterpartyVersion); err != nil {
		fail(c, err)
		return
	}
	info, err := s.chain.Channels().Get(c.Request.Context(), req.Channel.Endpoint.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) closeChannel(c *gin.Context) {
	ch := channel.Channel{Endpoint: channel.Endpoint{PortID: s.chain.PortID(), ChannelID: c.Param("channel")}}
	if err := s.chain.CloseChannel(c.Request.Context(), ch); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendRequest struct {
	ChannelID  string `json:"channel_id" binding:"required"`
	Collection string `json:"collection" binding:"required"`
	TokenID    string `json:"token_id" binding:"required"`
	Sender     string `json:"sender" binding:"required"`
	Receiver   string `json:"receiver" binding:"required"`
	Timeout    string `json:"timeout"`
}

func (r sendRequest) hostRequest() (host.SendRequest, error) {
	var timeout time.Duration
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return host.SendRequest{}, err
		}
		timeout = d
	}
	return host.SendRequest{
		ChannelID:  r.ChannelID,
		Collection: r.Collection,
		TokenID:    r.TokenID,
		Sender:     r.Sender,
		Receiver:   r.Receiver,
		Timeout:    timeout,
	}, nil
}

func (s *Server) sendTransfer(c *gin.Context) {
	s.send(c, s.chain.SendTransfer)
}

func (s *Server) sendReturn(c *gin.Context) {
	s.send(c, s.chain.SendReturn)
}

func (s *Server) send(c *gin.Context, fn func(ctx context.Context, req host.SendRequest) (nametransfer.Packet, error)) {
	var body sendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := body.hostRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pkt, err := fn(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"packet": pkt})
}

type packetRequest struct {
	Packet nametransfer.Packet `json:"packet"`
	// Ack is the raw acknowledgement bytes, base64 in JSON.
	Ack []byte `json:"acknowledgement"`
}

func (s *Server) receivePacket(c *gin.Context) {
	var req packetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ack, err := s.chain.RecvPacket(c.Request.Context(), req.Packet)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledgement": ack})
}

func (s *Server) acknowledgePacket(c *gin.Context) {
	var req packetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.chain.AcknowledgePacket(c.Request.Context(), req.Packet, req.Ack); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) timeoutPacket(c *gin.Context) {
	var req packetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.chain.TimeoutPacket(c.Request.Context(), req.Packet); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
