package cmd

import (
	"flag"

	"github.com/etnz/folio/docs"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// flagPredictors suggest values for the flags that have a closed set of values.
var flagPredictors = map[string]complete.Predictor{
	"c":        predict.Set{"EUR", "USD"},
	"k":        predict.Set{"buy", "sell"},
	"cond":     predict.Set{"above", "below"},
	"config":   predict.Files("*.yaml"),
	"json":     predict.Nothing,
	"disabled": predict.Nothing,
}

// container is a command made of subcommands.
type container interface {
	Subcommands() []subcommands.Command
}

// Completion describes the pcs command line for shell completion.
func Completion() *complete.Command {
	root := &complete.Command{
		Sub:   make(map[string]*complete.Command, len(Commands)),
		Flags: make(map[string]complete.Predictor),
	}
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		root.Flags[f.Name] = predictor(f.Name)
	})

	for _, c := range Commands {
		root.Sub[c.Name()] = completion(c)
	}
	return root
}

// completion describes c and its subcommands.
func completion(c subcommands.Command) *complete.Command {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(fs)
	cmd := &complete.Command{Flags: make(map[string]complete.Predictor)}
	fs.VisitAll(func(f *flag.Flag) {
		cmd.Flags[f.Name] = predictor(f.Name)
	})
	if c.Name() == "topic" {
		topics, _ := docs.GetAllTopics()
		cmd.Args = predict.Set(topics)
	}
	if c, ok := c.(container); ok {
		cmd.Sub = make(map[string]*complete.Command)
		for _, sub := range c.Subcommands() {
			cmd.Sub[sub.Name()] = completion(sub)
		}
	}
	return cmd
}

func predictor(name string) complete.Predictor {
	if p, ok := flagPredictors[name]; ok {
		return p
	}
	return predict.Something
}
