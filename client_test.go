package knovera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func writeResult(w http.ResponseWriter, data any) {
	b, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(Result{OK: true, Data: b})
}

func writeError(w http.ResponseWriter, code, message string) {
	json.NewEncoder(w).Encode(Result{OK: false, Error: &APIError{Code: code, Message: message}})
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", WithBaseURL(srv.URL))
}

// ============================================================================
// Conversations
// ============================================================================

func TestConversationsClient(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "GET" || r.URL.Path != "/api/conversations" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer test-token" {
				t.Errorf("missing bearer token")
			}
			writeResult(w, []Conversation{{ID: "c1"}, {ID: "c2", IsGroup: true}})
		})

		convos, err := client.Conversations.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(convos) != 2 || convos[0].ID != "c1" || !convos[1].IsGroup {
			t.Fatalf("unexpected conversations: %v", convos)
		}
	})

	t.Run("create direct", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/conversations/direct" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["userId"] != "alice" {
				t.Errorf("unexpected body: %v", body)
			}
			writeResult(w, Conversation{ID: "c-new", MemberIDs: []string{"me", "alice"}})
		})

		conv, err := client.Conversations.CreateDirect(context.Background(), "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if conv.ID != "c-new" {
			t.Fatalf("unexpected conversation: %v", conv)
		}
	})

	t.Run("pin", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "PATCH" || r.URL.Path != "/api/conversations/c1" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			var body map[string]bool
			json.NewDecoder(r.Body).Decode(&body)
			if !body["isPinned"] {
				t.Errorf("expected isPinned true")
			}
			writeResult(w, nil)
		})
		if err := client.Conversations.SetPinned(context.Background(), "c1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("api error surfaces", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, "not_found", "Conversation not found")
		})
		_, err := client.Conversations.Get(context.Background(), "missing")
		if err == nil || !strings.Contains(err.Error(), "Conversation not found") {
			t.Fatalf("expected api error, got %v", err)
		}
	})
}

// ============================================================================
// Messages
// ============================================================================

func TestMessagesClient(t *testing.T) {
	t.Run("send carries idempotency key", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/conversations/c1/messages" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			key, _ := body["_idempotencyKey"].(string)
			if !strings.HasPrefix(key, "sdk-") {
				t.Errorf("missing idempotency key: %v", body)
			}
			if body["content"] != "hello" {
				t.Errorf("unexpected content: %v", body["content"])
			}
			writeResult(w, Message{ID: "m1", ConversationID: "c1", Content: "hello"})
		})

		msg, err := client.Messages.Send(context.Background(), "c1", "hello", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != "m1" || msg.State != StateConfirmed {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("send with media and poll", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["pollId"] != "p1" {
				t.Errorf("missing pollId: %v", body)
			}
			if _, ok := body["media"]; !ok {
				t.Errorf("missing media: %v", body)
			}
			writeResult(w, Message{ID: "m1"})
		})

		_, err := client.Messages.Send(context.Background(), "c1", "", &SendOptions{
			Media:  []MediaAttachment{{UploadID: "u1", URL: "/f/u1"}},
			PollID: "p1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("history marks confirmed and passes paging", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("limit") != "25" || q.Get("before") != "m5" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			writeResult(w, []Message{{ID: "m1"}, {ID: "m2"}})
		})

		msgs, err := client.Messages.History(context.Background(), "c1", &HistoryOptions{Limit: 25, Before: "m5"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 2 || msgs[0].State != StateConfirmed {
			t.Fatalf("unexpected messages: %v", msgs)
		}
	})

	t.Run("react", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/messages/m1/reactions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			writeResult(w, nil)
		})
		if err := client.Messages.React(context.Background(), "m1", "👍"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// ============================================================================
// Seen / Polls
// ============================================================================

func TestSeenClientMark(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/messages/m1/seen" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		writeResult(w, nil)
	})
	if err := client.Seen.Mark(context.Background(), "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPollsClient(t *testing.T) {
	t.Run("create and vote", func(t *testing.T) {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/polls":
				writeResult(w, Poll{ID: "p1", Question: "Lunch?", Options: []PollOption{{ID: "o1", Text: "Pizza"}}})
			case "/api/polls/p1/vote":
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["optionId"] != "o1" {
					t.Errorf("unexpected vote body: %v", body)
				}
				writeResult(w, Poll{ID: "p1", Options: []PollOption{{ID: "o1", VoterIDs: []string{"me"}}}})
			default:
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
		})

		poll, err := client.Polls.Create(context.Background(), &CreatePollOptions{
			ConversationID: "c1", Question: "Lunch?", Options: []string{"Pizza"},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if poll.ID != "p1" {
			t.Fatalf("unexpected poll: %+v", poll)
		}

		voted, err := client.Polls.Vote(context.Background(), "p1", "o1")
		if err != nil {
			t.Fatalf("vote: %v", err)
		}
		if len(voted.Options[0].VoterIDs) != 1 {
			t.Fatalf("vote not recorded: %+v", voted)
		}
	})
}

// ============================================================================
// Media
// ============================================================================

func TestMediaClientUpload(t *testing.T) {
	t.Run("full lifecycle with relative presign", func(t *testing.T) {
		var uploaded bool
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/media/presign":
				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				if body["fileName"] != "photo.png" || body["mimeType"] != "image/png" {
					t.Errorf("unexpected presign body: %v", body)
				}
				writeResult(w, PresignResult{UploadID: "u1", URL: "/api/media/upload/u1"})
			case "/api/media/upload/u1":
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("relative upload lost auth header")
				}
				file, _, err := r.FormFile("file")
				if err != nil {
					t.Errorf("no file part: %v", err)
					w.WriteHeader(400)
					return
				}
				file.Close()
				uploaded = true
				w.WriteHeader(200)
			case "/api/media/confirm":
				if !uploaded {
					t.Error("confirm before upload")
				}
				writeResult(w, UploadResult{UploadID: "u1", URL: "/files/u1", FileName: "photo.png"})
			default:
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
		})

		result, err := client.Media.Upload(context.Background(), []byte("pngdata"), &UploadOptions{FileName: "photo.png"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.UploadID != "u1" || result.URL != "/files/u1" {
			t.Fatalf("unexpected result: %+v", result)
		}
	})

	t.Run("file name required", func(t *testing.T) {
		client := NewClient("tok")
		if _, err := client.Media.Upload(context.Background(), []byte("x"), nil); err == nil {
			t.Fatal("expected error without file name")
		}
	})
}

func TestGuessMimeType(t *testing.T) {
	cases := map[string]string{
		"a.png":   "image/png",
		"b.webp":  "image/webp",
		"c.md":    "text/markdown",
		"noext":   "application/octet-stream",
		"d.weird": "application/octet-stream",
	}
	for name, want := range cases {
		if got := guessMimeType(name); got != want {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}
}
