// Package terminal is the interactive command-line surface of Deep Search.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/evidence"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

// FileLoader describes a local file as an upload.
type FileLoader interface {
	Load(path, displayName string) (domain.UploadedFile, error)
}

// Exporter writes the conversation evidence to path and returns the row count.
type Exporter func(path string, snapshot domain.ConversationSnapshot) (int, error)

type Options struct {
	Loader        FileLoader
	Export        Exporter
	EvidenceLimit int
}

type REPL struct {
	conv      ports.Conversation
	opts      Options
	in        io.Reader
	out       io.Writer
	shown     int
	lastDraft string
}

func New(conv ports.Conversation, in io.Reader, out io.Writer, opts Options) *REPL {
	return &REPL{conv: conv, opts: opts, in: in, out: out}
}

const helpText = `Commands:
  <text>               patient ID or name, then your clinical question
  /confirm             confirm the patient shown
  /change              pick another patient
  /file <path>         attach a PNG, JPEG, WebP or PDF (max 10 MiB)
  /remove              drop the attached file
  /analyze [question]  analyze the attached file for the selected patient
  /mic                 dictate into the active field
  /send                submit the dictated text
  /voice on|off        read answers aloud
  /stop                stop listening and speaking
  /export <file.xlsx>  save the evidence of this conversation
  /reset               start over
  /help                show this help
  /quit                leave`

// Run opens the conversation and processes lines until /quit, EOF or ctx ends.
func (r *REPL) Run(ctx context.Context) error {
	r.conv.Open()
	defer r.conv.Close()
	r.render()

	scanner := bufio.NewScanner(r.in)
	r.prompt()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		quit, err := r.Execute(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "! %v\n", err)
		}
		r.render()
		if quit {
			return nil
		}
		r.prompt()
	}
	return scanner.Err()
}

// Execute runs one input line. Errors are user-facing; the REPL keeps going.
func (r *REPL) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return false, r.submit(ctx, line)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(command) {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/confirm":
		if !r.conv.ConfirmPatient() {
			fmt.Fprintln(r.out, "Nothing to confirm.")
		}
	case "/change":
		if !r.conv.ChangePatient() {
			fmt.Fprintln(r.out, "No patient to change.")
		}
	case "/file":
		return false, r.selectFile(arg)
	case "/remove":
		if !r.conv.RemoveFile() {
			fmt.Fprintln(r.out, "No file attached.")
		}
	case "/analyze":
		return false, ignoreRejection(r.conv.AnalyzeFile(ctx, arg))
	case "/mic":
		return false, r.conv.StartListening(ctx)
	case "/send":
		draft := r.conv.Snapshot().Draft
		if strings.TrimSpace(draft.Text) == "" {
			fmt.Fprintln(r.out, "Nothing dictated yet.")
			return false, nil
		}
		return false, r.submit(ctx, draft.Text)
	case "/voice":
		return false, r.setVoice(arg)
	case "/stop":
		r.conv.StopListening()
		r.conv.StopSpeaking()
	case "/export":
		return false, r.export(arg)
	case "/reset":
		r.conv.Close()
		r.conv.Open()
		r.shown = 0
		r.lastDraft = ""
	default:
		return false, fmt.Errorf("unknown command %s, try /help", command)
	}
	return false, nil
}

func (r *REPL) submit(ctx context.Context, text string) error {
	err := r.conv.SubmitUserText(ctx, text)
	if errors.Is(err, domain.ErrBusy) {
		return errors.New("still waiting for the previous request")
	}
	return err
}

func (r *REPL) selectFile(path string) error {
	if path == "" {
		return errors.New("usage: /file <path>")
	}
	if r.opts.Loader == nil {
		return errors.New("file upload is not available")
	}
	file, err := r.opts.Loader.Load(path, "")
	if err != nil {
		return err
	}
	return ignoreRejection(r.conv.SelectFile(file))
}

func (r *REPL) setVoice(arg string) error {
	var enabled bool
	switch strings.ToLower(arg) {
	case "on":
		enabled = true
	case "off":
	default:
		return errors.New("usage: /voice on|off")
	}
	return ignoreRejection(r.conv.SetVoiceOutput(enabled))
}

func (r *REPL) export(path string) error {
	if path == "" {
		return errors.New("usage: /export <file.xlsx>")
	}
	if r.opts.Export == nil {
		return errors.New("export is not available")
	}
	rows, err := r.opts.Export(path, r.conv.Snapshot())
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Exported %d evidence record(s) to %s\n", rows, path)
	return nil
}

// ignoreRejection drops errors the conversation already explained with a notice.
func ignoreRejection(err error) error {
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrSpeechUnsupported) {
		return nil
	}
	return err
}

func (r *REPL) prompt() {
	snapshot := r.conv.Snapshot()
	label := "patient"
	if snapshot.Stage == domain.StageLocked && snapshot.SelectedPatient != nil {
		label = snapshot.SelectedPatient.PatientID
	}
	fmt.Fprintf(r.out, "%s> ", label)
}

// render prints messages added since the last call, then pending notices.
func (r *REPL) render() {
	snapshot := r.conv.Snapshot()
	if len(snapshot.Messages) < r.shown {
		r.shown = 0
	}
	for _, msg := range snapshot.Messages[r.shown:] {
		r.renderMessage(msg)
	}
	r.shown = len(snapshot.Messages)

	for _, notice := range r.conv.DrainNotices() {
		fmt.Fprintf(r.out, "[%s] %s\n", notice.Level, notice.Text)
	}
	if draft := strings.TrimSpace(snapshot.Draft.Text); draft != "" && draft != r.lastDraft {
		fmt.Fprintf(r.out, "(dictated) %s  /send to submit\n", draft)
	}
	r.lastDraft = strings.TrimSpace(snapshot.Draft.Text)
}

func (r *REPL) renderMessage(msg domain.Message) {
	switch msg.Kind {
	case domain.MessageUser:
	case domain.MessageAssistant:
		fmt.Fprintf(r.out, "Deep Search: %s\n", msg.Text)
	case domain.MessageFileUpload:
		fmt.Fprintf(r.out, "Uploaded %s\n", msg.Filename)
	case domain.MessageAnalysis:
		fmt.Fprintf(r.out, "Analysis: %s\n", msg.Text)
		for _, suggestion := range msg.Suggestions {
			fmt.Fprintf(r.out, "  - %s\n", suggestion)
		}
	case domain.MessageEvidence:
		r.renderPanel(evidence.Render(msg.Evidence, r.opts.EvidenceLimit))
	}
}

func (r *REPL) renderPanel(panel evidence.Panel) {
	fmt.Fprintln(r.out, "Evidence:")
	for _, item := range panel.Items {
		fmt.Fprintf(r.out, "  [%s] %s  %s: %s\n", item.Department, item.Date, item.TitleLabel, item.Title)
		fmt.Fprintf(r.out, "      Result: %s  Doctor: %s\n", item.Result, item.Doctor)
		if item.Medicines != "" {
			fmt.Fprintf(r.out, "      Medicines: %s\n", item.Medicines)
		}
		if item.ReportImage != "" {
			fmt.Fprintf(r.out, "      Report: %s\n", item.ReportImage)
		}
	}
	if panel.Hidden > 0 {
		fmt.Fprintf(r.out, "  ... %d more record(s) not shown\n", panel.Hidden)
	}
}
