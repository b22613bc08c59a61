// Command linerpc-call starts a linerpc server as a child process, calls one
// method and prints the reply. With --follow it then prints the pushes of the
// task the reply names until interrupted.
//
//	linerpc-call --method hero.dungeon --params '{"hero_name":"X"}' \
//	    --follow task_id --stop hero.stop_dungeon -- heroserver serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/urfave/cli/v2"

	"github.com/linerpc/linerpc"
	"github.com/linerpc/linerpc/client"
)

func main() {
	app := &cli.App{
		Name:      "linerpc-call",
		Usage:     "call a method on a line-delimited JSON-RPC server",
		ArgsUsage: "-- command [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "dotted method path", Required: true},
			&cli.StringFlag{Name: "params", Aliases: []string{"p"}, Usage: "params as a JSON object"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "time to wait for the reply"},
			&cli.StringFlag{Name: "follow", Usage: "result key holding a task id whose pushes are printed"},
			&cli.IntFlag{Name: "count", Usage: "stop following after this many pushes (0 = until interrupted)"},
			&cli.StringFlag{Name: "stop", Usage: "method called with {\"task_id\": id} when following ends"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "linerpc-call:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("missing server command after --")
	}
	var params any
	if raw := c.String("params"); raw != "" {
		v := jsontext.Value(raw)
		if !v.IsValid() {
			return fmt.Errorf("--params is not valid JSON: %s", raw)
		}
		params = v
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpc, err := client.Start(context.WithoutCancel(ctx), c.Args().First(), c.Args().Tail())
	if err != nil {
		return err
	}
	defer rpc.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	reply, err := rpc.Call(callCtx, c.String("method"), params)
	if err != nil {
		return err
	}
	if err := printMessage(reply); err != nil {
		return err
	}
	if reply.IsError() || c.String("follow") == "" {
		return nil
	}

	taskID, err := followKey(reply, c.String("follow"))
	if err != nil {
		return err
	}
	return follow(ctx, rpc, taskID, c.Int("count"), c.String("stop"))
}

func followKey(reply *linerpc.Message, key string) (string, error) {
	var fields map[string]jsontext.Value
	if err := reply.DecodeResult(&fields); err != nil {
		return "", fmt.Errorf("result is not an object: %w", err)
	}
	raw, ok := fields[key]
	if !ok {
		// Domain failures come back as ordinary results without a task.
		return "", fmt.Errorf("result has no %q member", key)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%q is not a string: %w", key, err)
	}
	return id, nil
}

func follow(ctx context.Context, rpc *client.Client, taskID string, count int, stopMethod string) error {
	pushes, unsubscribe := rpc.Subscribe(taskID)
	defer unsubscribe()

	received := 0
loop:
	for count == 0 || received < count {
		select {
		case msg, ok := <-pushes:
			if !ok {
				return rpc.Err()
			}
			if err := printMessage(msg); err != nil {
				return err
			}
			received++
		case <-ctx.Done():
			break loop
		}
	}

	if stopMethod == "" {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := rpc.Call(stopCtx, stopMethod, map[string]string{"task_id": taskID})
	if err != nil {
		return err
	}
	return printMessage(reply)
}

func printMessage(msg *linerpc.Message) error {
	line, err := linerpc.EncodeLine(msg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(line)
	return err
}
