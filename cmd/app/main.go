package main

import (
    "context"
    "fmt"
    "os"

    "github.com/rs/zerolog/log"
    "github.com/spf13/cobra"

    cfgpkg "github.com/local/textpipeline/internal/config"
    logpkg "github.com/local/textpipeline/internal/logger"
)

func main() {
    cfg := cfgpkg.FromEnv()

    root := &cobra.Command{
        Use:           "textpipeline",
        Short:         "Document to text pipeline: conversion, OCR and text extraction",
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
            return logpkg.Init(logpkg.Options{
                Level:        cfg.Logging.Level,
                Pretty:       cfg.Logging.Pretty,
                File:         cfg.Logging.File,
                MaxSizeMB:    cfg.Logging.MaxSizeMB,
                MaxBackups:   cfg.Logging.MaxBackups,
                MaxAgeDays:   cfg.Logging.MaxAgeDays,
                Compress:     cfg.Logging.Compress,
                SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
                AxiomAPIKey:  cfg.Axiom.APIKey,
                AxiomOrgID:   cfg.Axiom.OrgID,
                AxiomDataset: cfg.Axiom.Dataset,
                AxiomFlush:   cfg.Axiom.FlushInterval,
            })
        },
    }

    root.AddCommand(workerCmd(&cfg))
    root.AddCommand(submitCmd(&cfg))
    root.AddCommand(statusCmd(&cfg))
    root.AddCommand(cancelCmd(&cfg))
    root.AddCommand(reconcileCmd(&cfg))

    err := root.ExecuteContext(context.Background())
    logpkg.Close()
    if err != nil {
        log.Error().Err(err).Msg("command failed")
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}
