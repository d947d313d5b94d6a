package juliaproject

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Answer is the tri-state result of a yes/no question. The zero value is
// AnswerUnknown.
type Answer int

const (
	// AnswerUnknown means the question has not been answered yet.
	AnswerUnknown Answer = iota
	// AnswerYes records an affirmative answer.
	AnswerYes
	// AnswerNo records a negative answer.
	AnswerNo
)

// String returns "unknown", "yes", or "no".
func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	default:
		return "unknown"
	}
}

func answerFromBool(b bool) Answer {
	if b {
		return AnswerYes
	}
	return AnswerNo
}

// Prompter asks interactive questions. Implementations are consulted only
// for questions that were not already answered by an option or an
// environment variable.
type Prompter interface {
	// YesNo asks a yes/no question and returns the answer.
	YesNo(question string) (bool, error)
	// Choose presents a question with a fixed set of choices and returns
	// the selected choice.
	Choose(question string, choices []string) (string, error)
}

// TerminalPrompter asks questions on the controlling terminal. It refuses
// to prompt when standard input is not a terminal, so that non-interactive
// runs fail with an instructive error instead of hanging.
type TerminalPrompter struct {
	// In is the input stream. Defaults to os.Stdin.
	In io.Reader
	// Out is the output stream. Defaults to os.Stdout.
	Out io.Writer
}

func (tp *TerminalPrompter) streams() (io.Reader, io.Writer, error) {
	in, out := tp.In, tp.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if f, ok := in.(*os.File); ok {
		if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			return nil, nil, fmt.Errorf("standard input is not a terminal: pre-set the answer with an option or environment variable")
		}
	}
	return in, out, nil
}

// YesNo prints the question and reads an answer. An empty response means yes.
func (tp *TerminalPrompter) YesNo(question string) (bool, error) {
	in, out, err := tp.streams()
	if err != nil {
		return false, err
	}
	reader := bufio.NewReader(in)
	prompt := color.New(color.FgCyan)
	for {
		prompt.Fprint(out, question)
		fmt.Fprint(out, " [Y/n] ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, fmt.Errorf("error reading answer: %v", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(out, "Please respond with 'yes' or 'no' (or 'y' or 'n').")
	}
}

// Choose prints the question and reads input until it matches one of choices.
func (tp *TerminalPrompter) Choose(question string, choices []string) (string, error) {
	in, out, err := tp.streams()
	if err != nil {
		return "", err
	}
	reader := bufio.NewReader(in)
	color.New(color.FgCyan).Fprintln(out, question)
	for {
		fmt.Fprintf(out, "Choose one of %s: ", strings.Join(choices, ", "))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("error reading answer: %v", err)
		}
		answer := strings.TrimSpace(line)
		for _, c := range choices {
			if answer == c {
				return c, nil
			}
		}
	}
}

// Keys of the questions a project may need answered before initialization.
const (
	questionInstall = "install"
	questionCompile = "compile"
	questionDepot   = "depot"
)

// questionKeys fixes the order in which unanswered questions are asked.
var questionKeys = []string{questionInstall, questionCompile, questionDepot}

var questionText = map[string]string{
	questionInstall: "No Julia installation found. Would you like to download and install Julia?",

	questionCompile: `I can compile a system image after installation.
Compilation may take a few, or many, minutes. You may compile now, later, or never.
Would you like to compile a system image after installation?`,

	questionDepot: `You can install all of the Julia packages and package information in a
project-specific "depot". This may allow you to avoid some incompatibilities.
Would you like to use a project-specific depot for Julia packages?`,
}

// envVarForQuestion maps a question key to the base name of the environment
// variable that can pre-answer it.
var envVarForQuestion = map[string]string{
	questionInstall: "INSTALL_JULIA",
	questionCompile: "COMPILE",
	questionDepot:   "DEPOT",
}

// questionStore records the answers to the install, compile, and depot
// questions. Answers arrive, in priority order, from explicit options, from
// environment variables, and finally from an interactive prompt. Each
// question is asked at most once.
type questionStore struct {
	results  map[string]Answer
	env      EnvVars
	prompter Prompter
	log      *slog.Logger
}

func newQuestionStore(depot Answer, env EnvVars, prompter Prompter) *questionStore {
	if prompter == nil {
		prompter = &TerminalPrompter{}
	}
	return &questionStore{
		results: map[string]Answer{
			questionInstall: AnswerUnknown,
			questionCompile: AnswerUnknown,
			questionDepot:   depot,
		},
		env:      env,
		prompter: prompter,
		log:      slog.New(slog.DiscardHandler),
	}
}

func (q *questionStore) get(key string) Answer {
	return q.results[key]
}

func (q *questionStore) set(key string, a Answer) {
	q.results[key] = a
}

// readEnvironmentVariables fills still-unanswered questions from their
// environment variables. A set variable must hold "y" or "n"; anything else
// is a configuration error even if the question was answered elsewhere.
func (q *questionStore) readEnvironmentVariables() error {
	for _, key := range questionKeys {
		if err := q.readOneVariable(key); err != nil {
			return err
		}
	}
	return nil
}

func (q *questionStore) readOneVariable(key string) error {
	name := q.env.Name(envVarForQuestion[key])
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	var answer Answer
	switch value {
	case "y":
		answer = AnswerYes
	case "n":
		answer = AnswerNo
	default:
		return fmt.Errorf("environment variable %s=%s must be y or n", name, value)
	}
	if q.results[key] == AnswerUnknown {
		q.results[key] = answer
		q.log.Info("read question answer from environment", "variable", name, "answer", answer)
	}
	return nil
}

// ask prompts for one question unless it already has an answer.
func (q *questionStore) ask(key string) error {
	if q.results[key] != AnswerUnknown {
		return nil
	}
	yes, err := q.prompter.YesNo(questionText[key])
	if err != nil {
		return fmt.Errorf("error asking %s question: %v", key, err)
	}
	q.results[key] = answerFromBool(yes)
	q.log.Info("recorded interactive answer", "question", key, "answer", q.results[key])
	return nil
}

// askAll prompts for every question that is still unanswered.
func (q *questionStore) askAll() error {
	for _, key := range questionKeys {
		if err := q.ask(key); err != nil {
			return err
		}
	}
	return nil
}
