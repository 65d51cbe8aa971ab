package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	coordinatorx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/coordinator"
	extractorx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/extractor"
	llmx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/llm"
	promptx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/prompt"
	schedulerx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/scheduler"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
	configx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/config"
	googlecalx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/googlecal"
	_ "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/logger/autoload"
	openrouterx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/openrouter"
	qstashx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/qstash"
)

type AppConfig struct {
	ConversationID   string        `envconfig:"CONVERSATION_ID" split_words:"true" default:"local-repl"`
	AccountID        string        `envconfig:"ACCOUNT_ID" split_words:"true" default:"primary"`
	UserTimezone     string        `envconfig:"USER_TIMEZONE" split_words:"true"`
	Horizon          time.Duration `envconfig:"HORIZON" split_words:"true" default:"168h"`
	TurnLogEnabled   bool          `envconfig:"TURN_LOG_ENABLED" split_words:"true" default:"false"`
	RemindersEnabled bool          `envconfig:"REMINDERS_ENABLED" split_words:"true" default:"false"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("SCHEDULER")

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	if err := llmCfg.Validate(); err != nil {
		panic(err)
	}
	if openrouterx.NewClient(llmCfg.OpenRouterForExtractor()) == nil {
		panic("failed to initialize openrouter client")
	}

	extractorCfg := llmCfg.OpenRouterForExtractor()
	chatModel, err := extractorCfg.New(ctx)
	if err != nil {
		panic(err)
	}
	intentExtractor, err := extractorx.New(ctx, chatModel, promptx.LoadPromptSet().Extractor)
	if err != nil {
		panic(err)
	}

	storeCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH")
	store, err := statex.NewUpstashRedisStore(*storeCfg)
	if err != nil {
		panic(err)
	}

	gatewayCfg := configx.MustNew[googlecalx.Config]("GOOGLE_CALENDAR")
	gateway, err := googlecalx.NewClient(*gatewayCfg)
	if err != nil {
		panic(err)
	}

	coordCfg := configx.MustNew[coordinatorx.Config]("COMMIT")
	coordinator, err := coordinatorx.New(gateway, *coordCfg)
	if err != nil {
		panic(err)
	}

	var turnLog statex.TurnLog
	if appCfg.TurnLogEnabled {
		turnLogCfg := configx.MustNew[statex.PostgresTurnLogConfig]("POSTGRES")
		pgLog, err := statex.NewPostgresTurnLog(*turnLogCfg)
		if err != nil {
			panic(err)
		}
		if err := pgLog.Migrate(ctx); err != nil {
			panic(err)
		}
		defer pgLog.Close()
		turnLog = pgLog
	}

	var reminders contractx.ReminderPublisher
	if appCfg.RemindersEnabled {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		reminders, err = qstashx.NewReminderPublisher(qstashx.MustNew(*qstashCfg), *qstashCfg)
		if err != nil {
			panic(err)
		}
	}

	svc, err := schedulerx.New(store, intentExtractor, gateway, coordinator, turnLog, reminders, schedulerx.Config{
		AccountID: appCfg.AccountID,
		Horizon:   appCfg.Horizon,
	})
	if err != nil {
		panic(err)
	}

	runREPL(ctx, svc, appCfg)
}

func runREPL(ctx context.Context, svc *schedulerx.Scheduler, appCfg *AppConfig) {
	fmt.Println("Scheduling assistant ready. Type a message, or \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		out, err := svc.HandleTurn(ctx, appCfg.ConversationID, line, appCfg.UserTimezone)
		if err != nil {
			log.Error().Err(err).Msg("turn failed")
			fmt.Println("Something went wrong handling that, please try again.")
			continue
		}
		fmt.Println(out.Response)
	}
}
