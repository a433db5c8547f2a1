package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/upiterbarg/OLMo-core/olmo"
)

func main() {
	tokenizer := olmo.NewGPT2TokenizerConfig()

	// A small Llama-style model with activation checkpointing on every
	// other block.
	cfg, err := olmo.NewLlama2Config("271M", tokenizer.PaddedVocabSize())
	if err != nil {
		log.Fatal(err)
	}
	ac, err := olmo.NewActivationCheckpointConfig(olmo.CheckpointSelectedBlocks, 2, nil)
	if err != nil {
		log.Fatal(err)
	}
	cfg.AC = ac

	fmt.Printf("model: %s\n", cfg.Name)
	fmt.Printf("parameters: %d (%d non-embedding)\n", cfg.NumParams(), cfg.NumNonEmbeddingParams())
	fmt.Printf("flops/token at 4k context: %d\n", cfg.NumFlopsPerToken(4096))
	fmt.Println()

	model, err := cfg.Build(olmo.BuildOptions{
		MaxSeqLen: 4096,
		Progress:  true,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nassembled %d parameter elements on %s\n", olmo.NumParamElements(model), model.Device())

	// The same descriptor builds sharded in a multi-rank world. Here four
	// in-process ranks stand in for four devices.
	shardedCfg, err := olmo.NewLlama2Config("271M", tokenizer.PaddedVocabSize())
	if err != nil {
		log.Fatal(err)
	}
	shardedCfg.DP = &olmo.DataParallelConfig{Name: olmo.DataParallelFSDP}

	err = olmo.LaunchLocal(context.Background(), 4, func(ctx context.Context, c olmo.Collective) error {
		m, err := shardedCfg.Build(olmo.BuildOptions{World: c, MaxSeqLen: 4096})
		if err != nil {
			return err
		}
		slog.Info("rank built sharded model",
			"rank", c.Rank(),
			"local_elements", olmo.NumLocalParamElements(m),
			"full_elements", olmo.NumParamElements(m))
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
}
