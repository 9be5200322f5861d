// Command chat is a terminal client for one conversation. It loads history
// over HTTP, then follows the conversation over the WebSocket and sends each
// line typed on stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"tutormarket/internal/auth"
	"tutormarket/internal/messaging"
	"tutormarket/internal/model"
)

var (
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	otherStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func main() {
	server := flag.String("server", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("TUTORMARKET_TOKEN"), "identity token")
	conversationID := flag.String("conversation", "", "conversation id")
	flag.Parse()

	if *token == "" || *conversationID == "" {
		flag.Usage()
		os.Exit(2)
	}
	// the server verifies the token; this only reads who we are
	claims, err := auth.ParseUnverified(*token)
	if err != nil {
		log.Fatalf("token: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{base: strings.TrimRight(*server, "/"), token: *token, self: claims.Email}
	c.view = messaging.NewView(*conversationID, c.self)
	if err := c.run(ctx, *conversationID); err != nil {
		log.Fatal(err)
	}
}

type client struct {
	base  string
	token string
	self  string
	view  *messaging.View
	shown map[string]bool
}

func (c *client) run(ctx context.Context, conversationID string) error {
	history, err := c.history(ctx, conversationID)
	if err != nil {
		return err
	}
	c.view.Load(history)
	c.shown = map[string]bool{}
	c.render()

	wsURL, err := url.Parse(c.base + "/api/ws")
	if err != nil {
		return err
	}
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := send(conn, messaging.EventJoin, messaging.ConversationRef{ConversationID: conversationID}); err != nil {
		return err
	}

	go c.readInput(ctx, conn, conversationID)

	for {
		var ev messaging.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection closed: %w", err)
		}
		switch ev.Type {
		case messaging.EventJoined:
			fmt.Println(noticeStyle.Render("joined, type a message and press enter"))
		case messaging.EventError:
			var e messaging.ErrorData
			if ev.Decode(&e) == nil {
				fmt.Println(errorStyle.Render(fmt.Sprintf("%s: %s", e.Kind, e.Message)))
				if e.Text != "" {
					fmt.Println(noticeStyle.Render("not sent: " + e.Text))
				}
			}
		default:
			if c.view.Observe(ev) {
				c.render()
			}
		}
	}
}

func (c *client) readInput(ctx context.Context, conn *websocket.Conn, conversationID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/read":
			c.view.MarkReadLocally()
			_ = send(conn, messaging.EventMarkRead, messaging.ConversationRef{ConversationID: conversationID})
			continue
		case "/quit":
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		if err := send(conn, messaging.EventSendMessage, messaging.SendData{ConversationID: conversationID, Text: line}); err != nil {
			fmt.Println(errorStyle.Render("send failed: " + err.Error()))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// render prints messages not shown yet, in server order.
func (c *client) render() {
	for _, m := range c.view.Messages() {
		if c.shown[m.ID] {
			continue
		}
		c.shown[m.ID] = true
		who := otherStyle.Render(m.SenderName)
		if m.SenderID == c.self {
			who = selfStyle.Render("you")
		}
		fmt.Printf("%s %s %s\n", noticeStyle.Render(m.CreatedAt.Local().Format("15:04")), who, m.Text)
	}
	if n := c.view.Unread(); n > 0 {
		fmt.Println(noticeStyle.Render(fmt.Sprintf("%d unread, /read to mark", n)))
	}
}

func (c *client) history(ctx context.Context, conversationID string) ([]model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/messages/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("history: %s %s", body.Error, body.Message)
	}
	var msgs []model.Message
	return msgs, json.NewDecoder(resp.Body).Decode(&msgs)
}

func send(conn *websocket.Conn, typ string, data any) error {
	ev, err := messaging.NewEvent(typ, data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
