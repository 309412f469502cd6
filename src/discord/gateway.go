package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/jobs"
	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/utils"
)

const gatewayVersion = 10

// Bot is the long-lived half of the Discord integration. It outlives
// individual gateway connections and remembers the session so that a dropped
// connection can be resumed.
type Bot struct {
	Client  *Client
	Service *protect.Service
	Config  config.DiscordConfig

	PrivacyPolicyText string

	sessionMu sync.Mutex
	session   *gatewaySession
}

type gatewaySession struct {
	ID             string
	SequenceNumber int
	ResumeURL      string
}

func NewBot(client *Client, service *protect.Service, cfg config.DiscordConfig, privacyPolicyText string) *Bot {
	return &Bot{
		Client:            client,
		Service:           service,
		Config:            cfg,
		PrivacyPolicyText: privacyPolicyText,
	}
}

func (b *Bot) currentSession() *gatewaySession {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	if b.session == nil {
		return nil
	}
	s := *b.session
	return &s
}

func (b *Bot) setSession(s *gatewaySession) {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	b.session = s
}

func (b *Bot) updateSequenceNumber(seq int) {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	if b.session != nil {
		b.session.SequenceNumber = seq
	}
}

// RunDiscordBot keeps a gateway connection open until the job is canceled,
// reconnecting with backoff when the connection fails.
func RunDiscordBot(bot *Bot) *jobs.Job {
	job := jobs.New("discord bot")
	log := job.Logger.With().Str("module", "discord").Logger()
	ctx := logging.AttachLoggerToContext(&log, job.Ctx)

	if !bot.Config.Enabled() {
		log.Warn().Msg("No Discord bot token was provided, so the Discord bot cannot run.")
		return job.Finish()
	}

	go func() {
		defer func() {
			log.Debug().Msg("shut down Discord bot")
			job.Finish()
		}()

		boff := backoff.Backoff{
			Min: 1 * time.Second,
			Max: 5 * time.Minute,
		}

		for {
			if ctx.Err() != nil {
				return
			}

			log.Info().Msg("Connecting to the Discord gateway")
			conn := newBotInstance(bot)
			err := conn.Run(ctx)
			if err != nil {
				dur := boff.Duration()
				log.Error().
					Err(err).
					Dur("retrying after", dur).
					Msg("failed to run Discord bot")
				if utils.SleepContext(ctx, dur) != nil {
					return
				}
				continue
			}

			if ctx.Err() != nil {
				return
			}

			// Discord wants a 1 to 5 second delay before reconnecting.
			delay := time.Duration(int64(time.Second) + rand.Int63n(int64(time.Second*4)))
			log.Info().Dur("delay", delay).Msg("Reconnecting to Discord")
			if utils.SleepContext(ctx, delay) != nil {
				return
			}

			boff.Reset()
		}
	}()
	return job
}

// botInstance is a single gateway connection.
type botInstance struct {
	bot  *Bot
	conn *websocket.Conn

	heartbeatIntervalMs int
	forceHeartbeat      chan struct{}

	// Cleared when a heartbeat is sent and set when Discord acks it. A
	// heartbeat that finds it still cleared means the connection is dead.
	didAckHeartbeat atomic.Bool

	// Every goroutine calls cancel on exit so the others shut down too.
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

func newBotInstance(bot *Bot) *botInstance {
	b := &botInstance{
		bot:            bot,
		forceHeartbeat: make(chan struct{}),
	}
	b.didAckHeartbeat.Store(true)
	return b
}

// Run connects and processes events until the connection closes. It returns
// an error only when something unexpected happened, in which case the caller
// should back off before reconnecting.
func (bot *botInstance) Run(ctx context.Context) (err error) {
	defer utils.RecoverPanicAsError(&err)

	ctx, bot.cancel = context.WithCancel(ctx)
	defer bot.cancel()

	err = bot.connect(ctx)
	if err != nil {
		return oops.New(err, "failed to connect to Discord gateway")
	}
	defer bot.conn.Close()

	bot.wg.Add(1)
	go bot.doSender(ctx)

	// Once the sender exits (on cancel or heartbeat failure), close the
	// connection so the read below unblocks.
	go func() {
		<-ctx.Done()
		bot.wg.Wait()
		bot.conn.Close()
	}()

	for {
		msg, err := bot.receiveGatewayMessage(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return oops.New(err, "failed to receive message from the gateway")
		}

		if msg.SequenceNumber != nil {
			bot.bot.updateSequenceNumber(*msg.SequenceNumber)
		}

		switch msg.Opcode {
		case OpcodeDispatch:
			bot.processEventMsg(ctx, msg)
		case OpcodeHeartbeat:
			select {
			case bot.forceHeartbeat <- struct{}{}:
			case <-ctx.Done():
			}
		case OpcodeHeartbeatACK:
			bot.didAckHeartbeat.Store(true)
		case OpcodeReconnect:
			logging.ExtractLogger(ctx).Info().Msg("Discord asked us to reconnect to the gateway")
			return nil
		case OpcodeInvalidSession:
			// The resume failed. Start over with a fresh session.
			logging.ExtractLogger(ctx).Info().Msg("gateway session was invalidated")
			bot.bot.setSession(nil)
			return nil
		}
	}
}

/*
Connecting, in short:
  - the gateway sends Hello with the heartbeat interval
  - with no session, we send Identify and wait for Ready
  - with a session, we send Resume; the gateway replays missed events and
    then sends RESUMED, or sends Invalid Session if the session is gone

Resume outcomes arrive through the normal receive loop in Run.
*/
func (bot *botInstance) connect(ctx context.Context) error {
	session := bot.bot.currentSession()

	gatewayURL := ""
	if session != nil && session.ResumeURL != "" {
		gatewayURL = session.ResumeURL
	} else {
		res, err := bot.bot.Client.GetGatewayBot(ctx)
		if err != nil {
			return oops.New(err, "failed to get gateway URL")
		}
		gatewayURL = res.URL
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/?v=%d&encoding=json", gatewayURL, gatewayVersion), nil)
	if err != nil {
		return oops.New(err, "failed to connect to the Discord gateway")
	}
	bot.conn = conn

	helloMessage, err := bot.receiveGatewayMessage(ctx)
	if err != nil {
		return oops.New(err, "failed to read Hello message")
	}
	if helloMessage.Opcode != OpcodeHello {
		return oops.New(nil, "expected a Hello (opcode %d), but got opcode %d", OpcodeHello, helloMessage.Opcode)
	}
	bot.heartbeatIntervalMs = HelloFromMap(helloMessage.Data, "d").HeartbeatIntervalMs
	if bot.heartbeatIntervalMs <= 0 {
		return oops.New(nil, "gateway sent a bad heartbeat interval")
	}

	if session != nil {
		err := bot.sendGatewayMessage(ctx, GatewayMessage{
			Opcode: OpcodeResume,
			Data: Resume{
				Token:          bot.bot.Client.Token,
				SessionID:      session.ID,
				SequenceNumber: session.SequenceNumber,
			},
		})
		if err != nil {
			return oops.New(err, "failed to send Resume message")
		}
		return nil
	}

	err = bot.sendGatewayMessage(ctx, GatewayMessage{
		Opcode: OpcodeIdentify,
		Data: Identify{
			Token: bot.bot.Client.Token,
			Properties: IdentifyConnectionProperties{
				OS:      runtime.GOOS,
				Browser: BotName,
				Device:  BotName,
			},
			Intents: IntentGuilds | IntentGuildMessages | IntentMessageContent,
		},
	})
	if err != nil {
		return oops.New(err, "failed to send Identify message")
	}

	readyMessage, err := bot.receiveGatewayMessage(ctx)
	if err != nil {
		return oops.New(err, "failed to read Ready message")
	}
	if readyMessage.Opcode != OpcodeDispatch || readyMessage.EventName == nil {
		return oops.New(nil, "expected a READY event, but got a message with opcode %d", readyMessage.Opcode)
	}
	if *readyMessage.EventName != "READY" {
		return oops.New(nil, "expected a READY event, but got a %s event", *readyMessage.EventName)
	}
	ready := ReadyFromMap(readyMessage.Data, "d")

	seq := 0
	if readyMessage.SequenceNumber != nil {
		seq = *readyMessage.SequenceNumber
	}
	bot.bot.setSession(&gatewaySession{
		ID:             ready.SessionID,
		SequenceNumber: seq,
		ResumeURL:      ready.ResumeGatewayURL,
	})
	logging.ExtractLogger(ctx).Info().Str("user", ready.User.Username).Msg("Connected to the Discord gateway")

	return nil
}

// doSender sends heartbeats. It runs on its own goroutine.
func (bot *botInstance) doSender(ctx context.Context) {
	defer bot.wg.Done()
	defer bot.cancel()

	log := logging.ExtractLogger(ctx).With().Str("discord goroutine", "sender").Logger()
	defer log.Info().Msg("shutting down Discord sender")

	// The first heartbeat goes out at a random point in the first interval.
	// https://discord.com/developers/docs/topics/gateway#heartbeating
	dur := time.Duration(bot.heartbeatIntervalMs) * time.Millisecond
	firstDelay := time.NewTimer(time.Duration(rand.Int63n(int64(dur))))
	defer firstDelay.Stop()
	heartbeatTicker := &time.Ticker{} // never ticks until the first heartbeat

	sendHeartbeat := func() bool {
		if !bot.didAckHeartbeat.Swap(false) {
			log.Error().Msg("did not receive a heartbeat ACK in between heartbeats")
			return false
		}

		var seq interface{}
		if session := bot.bot.currentSession(); session != nil {
			seq = session.SequenceNumber
		}
		err := bot.sendGatewayMessage(ctx, GatewayMessage{
			Opcode: OpcodeHeartbeat,
			Data:   seq,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to send heartbeat")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-firstDelay.C:
			if ok := sendHeartbeat(); !ok {
				return
			}
			heartbeatTicker = time.NewTicker(dur)
			defer heartbeatTicker.Stop()
		case <-heartbeatTicker.C:
			if ok := sendHeartbeat(); !ok {
				return
			}
		case <-bot.forceHeartbeat:
			// A requested heartbeat does not wait on the previous ack.
			bot.didAckHeartbeat.Store(true)
			if ok := sendHeartbeat(); !ok {
				return
			}
			if heartbeatTicker.C != nil {
				heartbeatTicker.Reset(dur)
			}
		}
	}
}

func (bot *botInstance) receiveGatewayMessage(ctx context.Context) (*GatewayMessage, error) {
	_, msgBytes, err := bot.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg GatewayMessage
	err = json.Unmarshal(msgBytes, &msg)
	if err != nil {
		return nil, oops.New(err, "failed to unmarshal Discord gateway message")
	}

	logging.ExtractLogger(ctx).Trace().Interface("msg", msg).Msg("received gateway message")

	return &msg, nil
}

func (bot *botInstance) sendGatewayMessage(ctx context.Context, msg GatewayMessage) error {
	// Identify and Resume carry the token.
	if msg.Opcode != OpcodeIdentify && msg.Opcode != OpcodeResume {
		logging.ExtractLogger(ctx).Trace().Interface("msg", msg).Msg("sending gateway message")
	}

	bot.writeMu.Lock()
	defer bot.writeMu.Unlock()
	return bot.conn.WriteMessage(websocket.TextMessage, msg.ToJSON())
}

// processEventMsg handles one Dispatch event. Bad payloads and handler
// failures are logged; they never take the connection down.
func (bot *botInstance) processEventMsg(ctx context.Context, msg *GatewayMessage) {
	if msg.EventName == nil {
		return
	}
	log := logging.ExtractLogger(ctx).With().Str("event", *msg.EventName).Logger()
	defer logging.LogPanics(&log)

	switch *msg.EventName {
	case "RESUMED":
		log.Info().Msg("Finished resuming gateway session")
	case "GUILD_CREATE":
		guild := GuildFromMap(msg.Data, "d")
		if bot.bot.Config.GuildID != "" && guild.ID != bot.bot.Config.GuildID {
			return
		}
		go bot.bot.registerCommandsAndLog(ctx)
	case "INTERACTION_CREATE":
		go bot.bot.handleInteraction(ctx, InteractionFromMap(msg.Data, "d"))
	case "MESSAGE_CREATE":
		newMessage := MessageFromMap(msg.Data, "d")
		if newMessage.Author == nil || newMessage.Author.IsBot || newMessage.Author.ID == bot.bot.Config.BotUserID {
			return
		}
		go bot.bot.handlePanelKeyword(ctx, newMessage)
	}
}
