package consumer

import (
	"net/http"

	"github.com/labstack/echo/v4"
	cmp "maragu.dev/gomponents"
	c "maragu.dev/gomponents/components"
	g "maragu.dev/gomponents/html"

	"github.com/nfrund/relaychat/internal/pubsub"
)

// statusData is what the status page shows.
type statusData struct {
	Healthy           bool
	ActiveConnections int
	ChatTopics        []string
	Topics            []pubsub.TopicInfo
}

// StatusPage renders the consumer's HTML status page.
func StatusPage(d statusData) cmp.Node {
	status := "healthy"
	if !d.Healthy {
		status = "unhealthy"
	}
	return c.HTML5(c.HTML5Props{
		Title:    "Chat Relay Consumer",
		Language: "en",
		Body: []cmp.Node{
			g.Main(
				g.Class("container"),
				g.H1(cmp.Text("Chat Relay Consumer")),
				g.P(cmp.Textf("Broker: %s", status)),
				g.P(cmp.Textf("Active WebSocket connections: %d", d.ActiveConnections)),
				g.H2(cmp.Text("Relayed topics")),
				g.Ul(cmp.Map(d.ChatTopics, func(t string) cmp.Node {
					return g.Li(g.Code(cmp.Text(t)))
				})),
				g.H2(cmp.Text("Retained topics")),
				topicsTable(d.Topics),
				g.H2(cmp.Text("Endpoints")),
				g.Ul(
					g.Li(g.Code(cmp.Text("GET /ws/chat")), cmp.Text(" live chat frames")),
					g.Li(g.Code(cmp.Text("POST /chat/messages")), cmp.Text(" recent chat messages")),
					g.Li(g.Code(cmp.Text("POST /consume")), cmp.Text(" consumer-group reads")),
					g.Li(g.Code(cmp.Text("GET /topics")), cmp.Text(" retained topics")),
				),
			),
		},
	})
}

func topicsTable(topics []pubsub.TopicInfo) cmp.Node {
	if len(topics) == 0 {
		return g.P(cmp.Text("No messages retained yet."))
	}
	return g.Table(
		g.THead(g.Tr(
			g.Th(cmp.Text("Topic")),
			g.Th(cmp.Text("Partitions")),
			g.Th(cmp.Text("Records")),
		)),
		g.TBody(cmp.Map(topics, func(t pubsub.TopicInfo) cmp.Node {
			return g.Tr(
				g.Td(cmp.Text(t.Name)),
				g.Td(cmp.Textf("%d", t.Partitions)),
				g.Td(cmp.Textf("%d", t.Records)),
			)
		})),
	)
}

// Status serves the HTML status page.
func (h *Handler) Status(ec echo.Context) error {
	node := StatusPage(statusData{
		Healthy:           h.broker.Healthy(),
		ActiveConnections: h.hub.ActiveConnections(),
		ChatTopics:        h.opts.Topics,
		Topics:            h.broker.Log().Topics(),
	})
	ec.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	ec.Response().WriteHeader(http.StatusOK)
	return node.Render(ec.Response())
}
