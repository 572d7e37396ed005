package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/WinterCore/octopus/internal/engine"
	"github.com/WinterCore/octopus/internal/httpapi"
	"github.com/WinterCore/octopus/internal/playlist"
	"github.com/WinterCore/octopus/internal/whep"
	"github.com/WinterCore/octopus/internal/wsapi"
)

func loadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on the environment as-is")
	}
}

func requiredPort(name string) uint16 {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("should specify a %s env variable", name)
	}
	port, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		log.Fatalf("%s should be a number: %v", name, err)
	}
	return uint16(port)
}

func main() {
	loadConfig()

	httpPort := requiredPort("HTTP_PORT")
	wsPort := requiredPort("WS_PORT")

	bufferSizeMs := uint64(engine.BufferSizeMs)
	if v := os.Getenv("BUFFER_SIZE_MS"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			bufferSizeMs = parsed
		}
	}

	actor := engine.NewActor(bufferSizeMs)
	go actor.Run()
	handle := engine.NewHandle(actor)

	wsServer := wsapi.New(handle)
	httpServer := httpapi.New(handle)

	mux := withWHEP(httpServer, handle)

	go func() {
		log.Printf("audio server listening on :%d", httpPort)
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", httpPort), mux))
	}()

	go func() {
		log.Printf("metadata websocket server listening on :%d", wsPort)
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", wsPort), wsServer.Mux()))
	}()

	runPlaylistCLI(handle, wsServer)
}

// withWHEP extends httpServer's mux with the WHEP egress endpoints and wires its session counter
// into the status snapshot, unless disabled via WHEP_ENABLED=false.
func withWHEP(httpServer *httpapi.Server, handle engine.Handle) *http.ServeMux {
	mux := httpServer.Mux()

	if v := strings.ToLower(os.Getenv("WHEP_ENABLED")); v == "false" || v == "0" {
		return mux
	}

	whepServer, err := whep.New(handle)
	if err != nil {
		log.Printf("whep: disabled, failed to start: %v", err)
		return mux
	}
	httpServer.SetWHEPSessionCounter(whepServer.SessionCount)

	mux.HandleFunc("/whep", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)

		case http.MethodPost:
			offer, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			answer, sessionID, err := whepServer.Offer(string(offer))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			w.Header().Set("Location", "/whep/"+sessionID)
			w.Header().Set("Content-Type", "application/sdp")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, answer)

		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/whep/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		sessionID := strings.TrimPrefix(r.URL.Path, "/whep/")
		whepServer.Close(sessionID)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// runPlaylistCLI reads lines from stdin; each line names a directory whose .opus files are
// played in a loop, pre-empting any playlist already in progress.
func runPlaylistCLI(handle engine.Handle, ws *wsapi.Server) {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("cli: error reading stdin: %v", err)
			return
		}

		dir := strings.TrimSpace(line)
		if dir == "" {
			continue
		}

		if err := playlist.Play(handle, ws, dir); err != nil {
			log.Printf("cli: error starting playlist %s: %v", dir, err)
			continue
		}
		log.Printf("cli: started playing playlist: %s", dir)
	}
}
