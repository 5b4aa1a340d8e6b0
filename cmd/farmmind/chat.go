package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farmmind/farmmind/internal/agent"
)

// buildChatCmd creates the "chat" command: an interactive terminal
// session with the orchestrator.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		phased     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the irrigation agent on the terminal",
		Long: `Start an interactive session. The agent streams its answer as it
thinks, asks before running any high-risk tool, and keeps the
conversation until you type "exit" or "clear".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath, debug, phased)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&phased, "phased", false, "Use the perception/reasoning/action flow")
	return cmd
}

func runChat(configPath string, debug, phased bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, configPath, debug)
	if err != nil {
		return err
	}
	defer a.close()

	confirmer := &agent.TerminalConfirmer{In: os.Stdin, Out: os.Stdout}
	dispatcher := a.newDispatcher(confirmer)

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	bold.Println("FarmMind irrigation agent")
	gray.Printf("%d tools across %d providers. Type a question, or \"exit\" / \"clear\".\n\n",
		len(a.catalog.List()), len(a.manager.Sessions()))

	if phased {
		return chatPhased(ctx, a, dispatcher)
	}
	return chatSingle(ctx, a, dispatcher)
}

func chatSingle(ctx context.Context, a *app, dispatcher *agent.Dispatcher) error {
	loop := agent.NewLoop(a.provider, a.catalog, dispatcher, a.loopConfig(), a.logger)
	loop.SetAudit(a.auditLog)
	loop.SetMetrics(a.metrics)

	green := color.New(color.FgGreen)
	loop.OnText = func(delta string) { fmt.Print(delta) }
	loop.OnReasoning = func(delta string) { green.Print(delta) }

	scanner := bufio.NewScanner(os.Stdin)
	for prompt(); scanner.Scan(); prompt() {
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case input == "clear":
			loop.Conversation().Reset()
			fmt.Println("conversation cleared")
			continue
		}

		out, err := loop.Run(ctx, input)
		if err != nil {
			color.Red("\nerror: %v", err)
			continue
		}
		// The answer already streamed through OnText; diagnostics did not.
		if out == agent.MaxCyclesDiagnostic || out == agent.AllErrorsDiagnostic {
			color.Yellow("\n%s", out)
		}
		fmt.Println()
	}
	return scanner.Err()
}

func chatPhased(ctx context.Context, a *app, dispatcher *agent.Dispatcher) error {
	runner := agent.NewPhaseRunner(a.provider, a.catalog, dispatcher, a.loopConfig(), a.logger)
	runner.SetAudit(a.auditLog)
	runner.SetMetrics(a.metrics)

	scanner := bufio.NewScanner(os.Stdin)
	for prompt(); scanner.Scan(); prompt() {
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		}

		var (
			out string
			err error
		)
		// An answer while a decision is pending resolves that decision.
		if runner.Pending() != nil {
			out, err = runner.Confirm(ctx, input)
		} else {
			out, err = runner.Run(ctx, input)
		}
		if err != nil {
			color.Red("\nerror: %v", err)
			continue
		}
		fmt.Println(out)
	}
	return scanner.Err()
}

func prompt() {
	color.New(color.FgCyan, color.Bold).Print("\nyou> ")
}
