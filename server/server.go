// Package server exposes the metadata accessor and chunk search over a
// WebSocket connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/indexer"
	"github.com/smartclm/clm/pkg/logger"
	"github.com/smartclm/clm/pkg/metadata"
)

// Message is a client request. Content carries the main argument (a document
// id, a type or a query) and Data any structured parameters.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Reply is sent back for every Message, echoing its ID.
type Reply struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Config struct {
	Addr            string
	Indexer         *indexer.Indexer
	Logger          *logger.Logger
	ShutdownTimeout time.Duration
}

type WSServer struct {
	config   Config
	indexer  *indexer.Indexer
	accessor *metadata.Accessor
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewWSServer(config Config) (*WSServer, error) {
	if config.Indexer == nil {
		return nil, fmt.Errorf("server needs an indexer")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	return &WSServer{
		config:   config,
		indexer:  config.Indexer,
		accessor: config.Indexer.Accessor(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.OrNop(config.Logger),
	}, nil
}

// Handler routes /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting websocket server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.log.Info("shutting down websocket server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *WSServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"services": s.indexer.Health(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to write health response", "error", err)
	}
}

// session serialises writes; gorilla connections allow one writer at a time.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := &session{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.send(sess, Reply{Type: "error", Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.send(sess, s.dispatch(ctx, msg))
		}()
	}
}

func (s *WSServer) send(sess *session, reply Reply) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.conn.WriteJSON(reply); err != nil {
		s.log.Warn("error sending message", "error", err)
	}
}

func (s *WSServer) dispatch(ctx context.Context, msg Message) Reply {
	reply, err := s.handleMessage(ctx, msg)
	if err != nil {
		s.log.Debug("request failed", "type", msg.Type, "error", err)
		reply = Reply{Type: "error", Content: err.Error()}
		if errors.Is(err, models.ErrNotFound) {
			reply.Data = map[string]string{"code": "not_found"}
		}
	}
	reply.ID = msg.ID
	return reply
}

type updateRequest struct {
	Patch metadata.Patch `json:"patch"`
}

type fieldQuery struct {
	Path  []string `json:"path"`
	Op    string   `json:"op"`
	Value *string  `json:"value"`
}

type renderRequest struct {
	Values map[string]string `json:"values"`
	Strict bool              `json:"strict"`
}

type diffRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type sectionRequest struct {
	SectionID string `json:"section_id"`
	Neighbors int    `json:"neighbors"`
}

type roomRequest struct {
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

type searchRequest struct {
	RoomID   string   `json:"room_id"`
	DocTypes []string `json:"doc_types"`
	Limit    int      `json:"limit"`
}

func (s *WSServer) handleMessage(ctx context.Context, msg Message) (Reply, error) {
	switch msg.Type {
	case "get":
		view, err := s.indexer.View(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "document", Data: view}, nil

	case "update":
		var req updateRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		if len(req.Patch) == 0 {
			return Reply{}, fmt.Errorf("update needs a non-empty patch")
		}
		if err := s.accessor.UpdateMetadata(ctx, msg.Content, req.Patch); err != nil {
			return Reply{}, err
		}
		md, err := s.accessor.GetMetadata(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "updated", Content: msg.Content, Data: md}, nil

	case "query_type":
		docs, err := s.accessor.QueryByType(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "documents", Data: summaries(docs)}, nil

	case "query_field":
		var q fieldQuery
		if err := decodeData(msg.Data, &q); err != nil {
			return Reply{}, err
		}
		if len(q.Path) == 0 && msg.Content != "" {
			q.Path = strings.Split(msg.Content, ".")
		}
		var pred metadata.Predicate
		if q.Value != nil {
			p, err := metadata.ParsePredicate(q.Op, *q.Value)
			if err != nil {
				return Reply{}, err
			}
			pred = p
		}
		docs, err := s.accessor.QueryByExtractedField(ctx, q.Path, pred)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "documents", Data: summaries(docs)}, nil

	case "render":
		var req renderRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		out, err := s.accessor.RenderDocument(ctx, msg.Content, req.Values, req.Strict)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "rendered", Content: out}, nil

	case "diff":
		var req diffRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		diff, err := s.accessor.CompareVariables(ctx, req.A, req.B)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "diff", Data: diff}, nil

	case "search":
		var req searchRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		results, err := s.indexer.Search(ctx, msg.Content, models.SearchFilter{
			RoomID:   req.RoomID,
			DocTypes: req.DocTypes,
			Limit:    req.Limit,
		})
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "results", Data: results}, nil

	case "outline":
		outline, err := s.indexer.Outline(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "outline", Content: msg.Content, Data: outline}, nil

	case "section":
		req := sectionRequest{Neighbors: 1}
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		sc, err := s.indexer.SectionContext(ctx, msg.Content, req.SectionID, req.Neighbors)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "section", Content: msg.Content, Data: sc}, nil

	case "create_room":
		var req roomRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return Reply{}, err
		}
		room := &models.Room{Name: msg.Content, Description: req.Description, OwnerID: req.OwnerID}
		if err := s.indexer.CreateRoom(ctx, room); err != nil {
			return Reply{}, err
		}
		return Reply{Type: "room", Data: room}, nil

	case "get_room":
		detail, err := s.indexer.Room(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: "room", Data: detail}, nil

	case "list_rooms":
		rooms, err := s.indexer.Rooms(ctx, msg.Content)
		if err != nil {
			return Reply{}, err
		}
		if rooms == nil {
			rooms = []models.Room{}
		}
		return Reply{Type: "rooms", Data: rooms}, nil

	case "delete_room":
		if err := s.indexer.DeleteRoom(ctx, msg.Content); err != nil {
			return Reply{}, err
		}
		return Reply{Type: "room_deleted", Content: msg.Content}, nil

	case "health":
		return Reply{Type: "health", Data: s.indexer.Health(ctx)}, nil

	default:
		return Reply{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func decodeData(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// DocumentSummary is the listing form of a document, without its content.
type DocumentSummary struct {
	ID               string             `json:"id"`
	RoomID           string             `json:"room_id,omitempty"`
	Filename         string             `json:"filename"`
	DocType          string             `json:"doc_type"`
	Category         string             `json:"category,omitempty"`
	ProcessingStatus string             `json:"processing_status"`
	Metadata         models.RawMetadata `json:"metadata"`
}

func summaries(docs []models.Document) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{
			ID:               d.ID,
			RoomID:           d.RoomID,
			Filename:         d.Filename,
			DocType:          d.DocType,
			Category:         d.Category,
			ProcessingStatus: d.ProcessingStatus,
			Metadata:         d.Metadata,
		})
	}
	return out
}
