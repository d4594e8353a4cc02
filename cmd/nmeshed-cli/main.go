// Command nmeshed-cli is a small demonstration client: it loads a
// workspace configuration, connects over the WebSocket reference
// transport, sets one key, and prints status transitions and incoming
// ops until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nmeshed/nmeshed-go"
	"github.com/nmeshed/nmeshed-go/internal/codec"
	"github.com/nmeshed/nmeshed-go/internal/connmgr"
	"github.com/nmeshed/nmeshed-go/internal/transport"
	"github.com/nmeshed/nmeshed-go/internal/transport/wstransport"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

func main() {
	var flagConfigFile, flagSetKey, flagSetValue string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to a JSON workspace configuration")
	flag.StringVar(&flagSetKey, "set-key", "", "If non-empty, set this key to -set-value once connected")
	flag.StringVar(&flagSetValue, "set-value", "", "String value paired with -set-key")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing '.env' file failed: %s", err.Error())
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		log.Fatalf("reading config file failed: %s", err.Error())
	}

	if token := os.Getenv("NMESHED_TOKEN"); token != "" {
		raw, err = overlayToken(raw, token)
		if err != nil {
			log.Fatal(err)
		}
	}

	newTransport := func() transport.Transporter { return wstransport.New() }

	client, err := nmeshed.New(raw, nil, newTransport, nil, nil)
	if err != nil {
		log.Fatalf("constructing client failed: %s", err.Error())
	}

	client.OnStatus(func(s connmgr.Status) {
		log.Infof("status: %s", s)
	})
	client.OnOp(func(key string, value []byte, isLocal bool) {
		log.Debugf("op: key=%s local=%v bytes=%d", key, isLocal, len(value))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %s", err.Error())
	}

	if flagSetKey != "" {
		if err := client.Set(flagSetKey, codec.String(flagSetValue), time.Now().UnixMilli()); err != nil {
			log.Errorf("set failed: %s", err.Error())
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	client.Destroy()
	log.Infof("shutdown complete")
}

func overlayToken(raw []byte, token string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["token"] = token
	return json.Marshal(m)
}
