package olmo

// ApplyTP rewrites the attention and feed-forward modules of every block to
// their sharded form along the tensor-parallel axis: query/key/value and
// the first/gate feed-forward projections are split column-wise (output
// dim), the output projections row-wise (input dim). This is a collective
// transformation: every rank in the sub-mesh must apply it with the same
// configuration.
func (m *Transformer) ApplyTP(tpMesh *DeviceMesh) error {
	if tpMesh == nil {
		return configErrorf("a tensor parallel sub-mesh is required to apply tensor parallelism")
	}
	degree, rank := tpMesh.shardInfo()
	if degree <= 1 {
		m.tpMesh = tpMesh
		return nil
	}

	att := &m.config.Block.Attention
	if att.NHeads%degree != 0 {
		return configErrorf(
			"tensor parallel degree %d does not divide n_heads %d", degree, att.NHeads)
	}
	if kv := att.EffectiveKVHeads(); kv%degree != 0 {
		return configErrorf(
			"tensor parallel degree %d does not divide n_kv_heads %d", degree, kv)
	}

	for _, entry := range m.Blocks {
		b := blockOf(entry)

		shardColwise(b.Attention.WQ, degree, rank)
		shardColwise(b.Attention.WK, degree, rank)
		shardColwise(b.Attention.WV, degree, rank)
		shardRowwise(b.Attention.WOut, degree, rank)

		if ff := b.FeedForward; ff != nil {
			shardColwise(ff.W1, degree, rank)
			shardColwise(ff.W3, degree, rank)
			shardRowwise(ff.W2, degree, rank)
		}
	}

	m.tpMesh = tpMesh
	return nil
}

// shardColwise splits a linear layer along its output dimension. The bias
// follows the output dimension.
func shardColwise(l *Linear, n, rank int) {
	l.Weight.Shard(0, n, rank)
	if l.Bias != nil {
		l.Bias.Shard(0, n, rank)
	}
}

// shardRowwise splits a linear layer along its input dimension. The bias
// stays replicated: it is applied once after the partial results are
// reduced.
func shardRowwise(l *Linear, n, rank int) {
	l.Weight.Shard(1, n, rank)
}
