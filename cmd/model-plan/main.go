package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/upiterbarg/OLMo-core/olmo"
)

type preset struct {
	name  string
	build func(vocabSize int) (*olmo.TransformerConfig, error)
}

var presets = []preset{
	{"llama2-271M", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama2Config("271M", v) }},
	{"llama2-1B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama2Config("1B", v) }},
	{"llama2-7B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama2Config("7B", v) }},
	{"llama2-13B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama2Config("13B", v) }},
	{"llama3-1B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama3Config("1B", v) }},
	{"llama3-8B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewLlama3Config("8B", v) }},
	{"olmo2-1B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewOLMo2Config("1B", v) }},
	{"olmo2-7B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewOLMo2Config("7B", v) }},
	{"ngpt-1B", func(v int) (*olmo.TransformerConfig, error) { return olmo.NewNGPTConfig("1B", v) }},
}

func main() {
	var vocabSize int
	var seqLen int

	root := &cobra.Command{
		Use:   "model-plan",
		Short: "Inspect model sizes and plan parallel layouts without building weights",
	}
	root.PersistentFlags().IntVar(&vocabSize, "vocab-size", olmo.NewGPT2TokenizerConfig().PaddedVocabSize(), "vocabulary size (padded)")

	sizesCmd := &cobra.Command{
		Use:   "sizes",
		Short: "Print parameter and flop counts for the preset model family",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Model", "Params", "Non-Embedding", "TFLOPs/Token"})
			for _, p := range presets {
				cfg, err := p.build(vocabSize)
				if err != nil {
					return fmt.Errorf("preset %s: %w", p.name, err)
				}
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("preset %s: %w", p.name, err)
				}
				table.Append([]string{
					p.name,
					humanCount(cfg.NumParams()),
					humanCount(cfg.NumNonEmbeddingParams()),
					fmt.Sprintf("%.3f", float64(cfg.NumFlopsPerToken(seqLen))/1e12),
				})
			}
			table.Render()
			return nil
		},
	}
	sizesCmd.Flags().IntVar(&seqLen, "seq-len", 4096, "sequence length for the flop estimate")

	meshCmd := &cobra.Command{
		Use:   "mesh <world-size>",
		Short: "Print the device mesh a parallel layout produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worldSize, err := strconv.Atoi(args[0])
			if err != nil || worldSize < 1 {
				return fmt.Errorf("invalid world size %q", args[0])
			}
			tpDegree, _ := cmd.Flags().GetInt("tp")
			dpName, _ := cmd.Flags().GetString("dp")
			replicas, _ := cmd.Flags().GetInt("replicas")

			var dp *olmo.DataParallelConfig
			if dpName != "" {
				dp = &olmo.DataParallelConfig{Name: olmo.DataParallelType(dpName), NumReplicas: replicas}
				if err := dp.Validate(); err != nil {
					return err
				}
			}
			var tp *olmo.TensorParallelConfig
			if tpDegree > 1 {
				tp = &olmo.TensorParallelConfig{Degree: tpDegree}
			}

			runName := uuid.New().String()[:8]
			slog.Info("planning mesh", "run", runName, "world_size", worldSize)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Rank", "Mesh", "Coordinates"})
			for rank := 0; rank < worldSize; rank++ {
				mesh, err := olmo.BuildDeviceMesh(planRank{rank, worldSize}, olmo.DeviceCUDA, dp, tp)
				if err != nil {
					return err
				}
				if mesh == nil {
					fmt.Println("no parallel strategy configured; no mesh required")
					return nil
				}
				coords := ""
				for _, name := range mesh.AxisNames() {
					if coords != "" {
						coords += ", "
					}
					coords += fmt.Sprintf("%s=%d", name, mesh.AxisCoord(name))
				}
				table.Append([]string{strconv.Itoa(rank), mesh.String(), coords})
			}
			table.Render()
			return nil
		},
	}
	meshCmd.Flags().Int("tp", 1, "tensor parallel degree")
	meshCmd.Flags().String("dp", "", "data parallel variant (fsdp, hsdp, ddp)")
	meshCmd.Flags().Int("replicas", 0, "hsdp replica count")

	root.AddCommand(sizesCmd, meshCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// planRank is an offline stand-in for a rank: mesh planning only needs the
// rank/size geometry, never actual communication.
type planRank struct {
	rank, size int
}

func (p planRank) Rank() int { return p.rank }
func (p planRank) Size() int { return p.size }

func (planRank) Barrier(context.Context) error { return nil }

func (p planRank) AllGatherInt(_ context.Context, value int) ([]int, error) {
	out := make([]int, p.size)
	out[p.rank] = value
	return out, nil
}

func humanCount(n int) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	default:
		return strconv.Itoa(n)
	}
}
