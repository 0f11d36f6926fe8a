// Command watchpost follows the live activity socket of one post and can
// react to it, showing the optimistic count before the server confirms it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devpress/internal/feed"

	"github.com/gorilla/websocket"
)

type event struct {
	Type    string          `json:"type"`
	PostID  uint            `json:"postId"`
	UserID  uint            `json:"userId"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
	Error   string          `json:"error"`
}

type reactionPayload struct {
	Counts map[string]int `json:"reactionCounts"`
}

func main() {
	host := flag.String("host", "localhost:8080", "API server host")
	postID := flag.Uint("post", 1, "Post to watch")
	username := flag.String("username", "", "Log in as this user before connecting")
	password := flag.String("password", "password123", "Password for -username")
	react := flag.String("react", "", "Reaction to send once connected (like, fire, ...)")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	var cookies []*http.Cookie
	if *username != "" {
		var err error
		cookies, err = login(client, *host, *username, *password)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		log.Printf("Logged in as %s", *username)
	}

	item, err := fetchPost(client, *host, *postID)
	if err != nil {
		log.Fatalf("Failed to load post %d: %v", *postID, err)
	}
	items := []feed.Item{item}
	log.Printf("Watching %q (%d reactions)", item.Title, item.Likes)

	header := http.Header{}
	for _, c := range cookies {
		header.Add("Cookie", c.String())
	}
	wsURL := url.URL{Scheme: "ws", Host: *host, Path: fmt.Sprintf("/ws/posts/%d", *postID)}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), header)
	if err != nil {
		if resp != nil {
			log.Fatalf("Dial failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if *react != "" {
		if len(cookies) == 0 {
			log.Print("-react needs -username")
			return
		}
		var found bool
		items, found = feed.LikeOptimistically(items, *postID)
		if found {
			log.Printf("Optimistic count: %d", items[0].Likes)
		}
		if err := sendReaction(client, *host, *postID, *react, cookies); err != nil {
			log.Printf("Reaction failed: %v", err)
		}
	}

	// Frames queue on the socket until the reader starts, so items is only
	// touched by one goroutine at a time.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			items = handle(msg, items)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		<-done
	}
}

// handle prints one frame and reconciles the local count with the server's.
func handle(msg []byte, items []feed.Item) []feed.Item {
	var ev event
	if err := json.Unmarshal(msg, &ev); err != nil {
		log.Printf("Unreadable frame: %s", msg)
		return items
	}
	if ev.Error != "" {
		log.Printf("Server refused the watch: %s", ev.Error)
		return items
	}

	switch ev.Type {
	case "snapshot", "reaction":
		var p reactionPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			total := 0
			for _, n := range p.Counts {
				total += n
			}
			items[0].Likes = total
			log.Printf("%s: %d reactions %v", ev.Type, total, p.Counts)
			return items
		}
	}
	log.Printf("%s by user %d: %s", ev.Type, ev.UserID, ev.Payload)
	return items
}

func login(client *http.Client, host, username, password string) ([]*http.Cookie, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(fmt.Sprintf("http://%s/authenticate", host), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.Cookies(), nil
}

func fetchPost(client *http.Client, host string, id uint) (feed.Item, error) {
	resp, err := client.Get(fmt.Sprintf("http://%s/api/posts/%d", host, id))
	if err != nil {
		return feed.Item{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return feed.Item{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var post struct {
		ID        uint     `json:"id"`
		Title     string   `json:"title"`
		Content   string   `json:"content"`
		Tags      []string `json:"tags"`
		Reactions int      `json:"reactionsCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return feed.Item{}, err
	}
	return feed.Item{ID: post.ID, Title: post.Title, Content: post.Content, Tags: post.Tags, Likes: post.Reactions}, nil
}

func sendReaction(client *http.Client, host string, postID uint, reaction string, cookies []*http.Cookie) error {
	body, _ := json.Marshal(map[string]string{"type": reaction})
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/posts/%d/reactions", host, postID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
