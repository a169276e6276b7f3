// Command refertocli is the clinician-side client: it uploads a recorded
// consultation, waits for the report and prints it.
//
//	refertocli token  -user u1 -studio s1 -role doctor
//	refertocli submit -file visit.webm -patient p1 -doctor "Dr. Rossi"
//	refertocli show   -id <recording id>
//
// The server URL and bearer token come from REFERTO_API_URL and REFERTO_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medical-ai-platform/internal/apiclient"
	"medical-ai-platform/internal/capture"
	"medical-ai-platform/internal/poller"
	"medical-ai-platform/internal/render"
)

const (
	defaultAPIURL = "http://localhost:8080"
	// defaultBitrate is what browser MediaRecorder uses for Opus in WebM.
	defaultBitrate = 128000
	// minReadTimeout keeps very short poll intervals from starving status reads.
	minReadTimeout = 2 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintln(os.Stderr, "refertocli:", err)
		os.Exit(1)
	}
}

type env struct {
	stdout io.Writer
	log    *slog.Logger
	client *apiclient.Client
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		return errors.New("usage: refertocli token|submit|show [flags]")
	}
	baseURL := getenv("REFERTO_API_URL")
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	e := env{
		stdout: stdout,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		client: apiclient.New(baseURL, getenv("REFERTO_TOKEN"), &http.Client{Timeout: 15 * time.Minute}),
	}

	switch args[0] {
	case "token":
		return e.token(ctx, args[1:])
	case "submit":
		return e.submit(ctx, args[1:])
	case "show":
		return e.show(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// token uses the development login to mint an access token.
func (e env) token(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	studio := fs.String("studio", "", "studio id")
	role := fs.String("role", "doctor", "role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *studio == "" {
		return errors.New("token: -user and -studio are required")
	}
	pair, err := e.client.Login(ctx, *user, *studio, *role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.stdout, pair.AccessToken)
	return err
}

func (e env) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("file", "", "encoded audio file to upload")
	studio := fs.String("studio", "", "studio id (defaults to the token's studio)")
	patient := fs.String("patient", "", "patient id")
	visitType := fs.String("visit-type", "", "visit type")
	doctor := fs.String("doctor", "", "doctor name")
	duration := fs.Duration("duration", 0, "recorded length; estimated from file size and -bitrate when zero")
	bitrate := fs.Int("bitrate", defaultBitrate, "encoder bitrate in bits per second")
	wait := fs.Bool("wait", true, "poll until the report is ready and print it")
	interval := fs.Duration("interval", poller.DefaultInterval, "poll interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *patient == "" {
		return errors.New("submit: -file and -patient are required")
	}
	if *duration < 0 || (*duration == 0 && *bitrate <= 0) {
		return errors.New("submit: -duration or a positive -bitrate is required")
	}

	// A file replays faster than real time, so the recorder's clock says
	// nothing about the audio length.
	audio, err := record(ctx, capture.FileDevice{Path: *file})
	if err != nil {
		return err
	}
	if *duration == 0 {
		*duration = estimateDuration(len(audio), *bitrate)
	}

	rec, err := e.client.CreateRecording(ctx, apiclient.CreateRecordingRequest{
		StudioID:   *studio,
		PatientID:  *patient,
		VisitType:  *visitType,
		DoctorName: *doctor,
		Duration:   *duration,
		Audio:      audio,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "recording %s created\n", rec.ID)
	if !*wait {
		return nil
	}
	return e.await(ctx, rec.ID, *interval)
}

func (e env) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	id := fs.String("id", "", "recording id")
	interval := fs.Duration("interval", poller.DefaultInterval, "poll interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("show: -id is required")
	}
	return e.await(ctx, *id, *interval)
}

func (e env) await(ctx context.Context, id string, interval time.Duration) error {
	p := poller.New(e.client, poller.Config{
		Interval:       interval,
		RequestTimeout: max(interval, minReadTimeout),
		OnAttempt: func(attempt int, status string, err error) {
			e.log.Debug("poll", "attempt", attempt, "status", status, "err", err)
		},
	}, e.log)

	out, err := p.Poll(ctx, id)
	if err != nil {
		if errors.Is(err, poller.ErrTimedOut) {
			return fmt.Errorf("report for %s still in progress after %d attempts, run `refertocli show -id %s` later", id, out.Attempts, id)
		}
		return err
	}

	doc := render.NewDocument()
	if err := render.Render(doc, out.Result.Referto, out.Result.Odontogramma); err != nil {
		return err
	}
	return doc.WriteText(e.stdout)
}

// record drains a device to the end and returns the captured audio.
func record(ctx context.Context, dev capture.Device) ([]byte, error) {
	r := capture.NewRecorder(dev)
	if !r.Start(ctx) {
		return nil, r.Err()
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		r.Reset()
		return nil, ctx.Err()
	}
	r.Stop()
	if err := r.Err(); err != nil {
		return nil, err
	}
	blob := r.Blob()
	if blob == nil {
		return nil, errors.New("capture: nothing recorded")
	}
	return blob, nil
}

// estimateDuration derives the audio length of an encoded blob from its
// bitrate, rounded up to whole seconds.
func estimateDuration(size, bitsPerSecond int) time.Duration {
	bits := int64(size) * 8
	secs := (bits + int64(bitsPerSecond) - 1) / int64(bitsPerSecond)
	return time.Duration(max(secs, 1)) * time.Second
}
