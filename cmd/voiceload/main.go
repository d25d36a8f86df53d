// Command voiceload drives synthetic speech traffic against a voicegate
// instance, over plain HTTP or the streaming WebSocket endpoint, and reports
// latency percentiles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	target := flag.String("target", "http://localhost:8080", "voicegate base URL")
	concurrency := flag.Int("concurrency", 4, "number of concurrent speakers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	text := flag.String("text", "The quick brown fox jumps over the lazy dog.", "text to synthesize")
	language := flag.String("language", "EN", "synthesis language")
	user := flag.String("user", "", "speaker userId (empty uses the server default)")
	speed := flag.Float64("speed", 1.0, "speech speed")
	conversion := flag.Bool("conversion", false, "apply tone conversion (requires a cloned speaker)")
	mode := flag.String("mode", "http", "request mode (http|ws)")
	flag.Parse()

	if *mode == "ws" && *user == "" {
		// The stream endpoint has no default speaker.
		*user = "EN_NEWEST"
	}

	payload, err := json.Marshal(map[string]any{
		"type":                  "text_to_speech",
		"text":                  *text,
		"language":              *language,
		"userId":                *user,
		"speed":                 *speed,
		"apply_tone_conversion": *conversion,
	})
	if err != nil {
		fmt.Printf("bad payload: %v\n", err)
		return
	}

	fmt.Printf("Load test: %d concurrent speakers for %s\n", *concurrency, *duration)
	fmt.Printf("Target: %s | Mode: %s | Conversion: %v\n\n", *target, *mode, *conversion)

	wsURL := strings.Replace(*target, "http", "ws", 1) + "/ws/speak"
	client := &http.Client{Timeout: 2 * time.Minute}

	var mu sync.Mutex
	var results []speakResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				var r speakResult
				if *mode == "ws" {
					r = runStream(wsURL, payload)
				} else {
					r = runSpeak(client, *target, payload)
				}
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type speakResult struct {
	success bool
	firstMs float64
	totalMs float64
	bytes   int
	err     string
}

// runSpeak issues one POST /tts request. firstMs is time to response headers,
// totalMs includes draining the audio body.
func runSpeak(client *http.Client, target string, payload []byte) speakResult {
	start := time.Now()
	resp, err := client.Post(target+"/tts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return speakResult{err: fmt.Sprintf("post: %v", err)}
	}
	defer resp.Body.Close()
	first := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return speakResult{err: fmt.Sprintf("read: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return speakResult{err: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))}
	}
	return speakResult{
		success: true,
		firstMs: toMs(first),
		totalMs: toMs(time.Since(start)),
		bytes:   len(body),
	}
}

// runStream drives one request over /ws/speak and reads frames until the
// server signals the end of the stream. firstMs is time to the first audio
// chunk.
func runStream(wsURL string, payload []byte) speakResult {
	start := time.Now()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return speakResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	if err = conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return speakResult{err: fmt.Sprintf("send: %v", err)}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
	var res speakResult
	var firstChunk time.Duration
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return speakResult{err: fmt.Sprintf("read: %v", err)}
		}
		if msgType == websocket.BinaryMessage {
			if firstChunk == 0 {
				firstChunk = time.Since(start)
			}
			res.bytes += len(data)
			continue
		}

		var ev struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		switch ev.Status {
		case "streaming":
			// Stream metadata, audio frames follow.
		case "Audio stream finished.":
			res.success = true
			res.firstMs = toMs(firstChunk)
			res.totalMs = toMs(time.Since(start))
			return res
		default:
			return speakResult{err: ev.Status}
		}
	}
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func printSummary(results []speakResult) {
	var succeeded, failed, audioBytes int
	var firstError string
	var firstAll, totalAll []float64

	for _, r := range results {
		if !r.success {
			failed++
			if firstError == "" {
				firstError = r.err
			}
			continue
		}
		succeeded++
		audioBytes += r.bytes
		firstAll = append(firstAll, r.firstMs)
		totalAll = append(totalAll, r.totalMs)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Requests completed: %d\n", succeeded)
	fmt.Printf("Requests failed:    %d\n", failed)
	fmt.Printf("Audio received:     %.1f MB\n", float64(audioBytes)/(1024*1024))

	if len(totalAll) == 0 {
		fmt.Println("No successful requests to report latency")
		if firstError != "" {
			fmt.Printf("First error: %s\n", firstError)
		}
		return
	}

	fmt.Printf("\n%-6s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	fmt.Printf("%-6s %8.0fms %8.0fms %8.0fms\n", "First", percentile(firstAll, 50), percentile(firstAll, 95), percentile(firstAll, 99))
	fmt.Printf("%-6s %8.0fms %8.0fms %8.0fms\n", "Total", percentile(totalAll, 50), percentile(totalAll, 95), percentile(totalAll, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
