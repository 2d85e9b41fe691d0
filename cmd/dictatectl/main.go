// dictatectl is a small control client for the dictation pipeline API:
//
//	dictatectl [-addr host:port] start|stop|pause|resume|status|transcripts|schedules|todos
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "pipeline API address")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dictatectl [-addr host:port] start|stop|pause|resume|status|transcripts|schedules|todos")
		os.Exit(2)
	}

	base := "http://" + *addr + "/v1"
	client := &http.Client{Timeout: 10 * time.Second}

	switch cmd := flag.Arg(0); cmd {
	case "start", "stop", "pause", "resume":
		post(client, base+"/session/"+cmd)
	case "status", "transcripts", "schedules", "todos":
		get(client, base+"/"+cmd)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func post(client *http.Client, url string) {
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("%s: %s %s", url, resp.Status, body)
	}
	if resp.StatusCode == http.StatusNoContent {
		log.Println("ok")
		return
	}
	printJSON(resp.Body)
}

func get(client *http.Client, url string) {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("%s: %s %s", url, resp.Status, body)
	}
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		log.Fatalf("decode response: %v", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("format response: %v", err)
	}
	fmt.Println(string(out))
}
