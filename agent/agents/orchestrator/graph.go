package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/chative-voicebot/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileHandleEventGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodex.NodeValidateEvent,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateEvent(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeValidateEvent, err)
	}

	nodes := []struct {
		name string
		fn   func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)
	}{
		{nodex.NodeClearSession, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClearSession(ctx, in, o.store)
		}},
		{nodex.NodeAcknowledge, func(_ context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Acknowledge(in)
		}},
		{nodex.NodeTranscribe, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Transcribe(ctx, in, o.fetcher, o.stt, o.phrases)
		}},
		{nodex.NodeLoadSession, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, o.store, o.historyLimit)
		}},
		{nodex.NodeMatchFAQ, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.MatchFAQ(ctx, in, o.faq)
		}},
		{nodex.NodeResolveIntent, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveIntent(ctx, in, o.resolver, o.phrases)
		}},
		{nodex.NodeDispatchAction, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchAction(ctx, in, o.dispatcher)
		}},
		{nodex.NodeRecordTurns, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordTurns(ctx, in, o.store)
		}},
		{nodex.NodeSynthesizeReply, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SynthesizeReply(ctx, in, o.publisher)
		}},
	}
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeFinalizeReply, err)
	}

	branches := []struct {
		from string
		cond func(ctx context.Context, in *nodex.GraphState) (string, error)
		to   []string
	}{
		{nodex.NodeValidateEvent, nodex.RouteEvent, []string{nodex.NodeClearSession, nodex.NodeTranscribe, nodex.NodeAcknowledge}},
		{nodex.NodeTranscribe, nodex.RouteTranscript, []string{nodex.NodeSynthesizeReply, nodex.NodeLoadSession}},
		{nodex.NodeMatchFAQ, nodex.RouteFAQ, []string{nodex.NodeRecordTurns, nodex.NodeResolveIntent}},
	}
	for _, b := range branches {
		ends := make(map[string]bool, len(b.to))
		for _, to := range b.to {
			ends[to] = true
		}
		if err := graph.AddBranch(b.from, compose.NewGraphBranch(b.cond, ends)); err != nil {
			return nil, fmt.Errorf("add branch from %s: %w", b.from, err)
		}
	}

	edges := [][2]string{
		{compose.START, nodex.NodeValidateEvent},
		{nodex.NodeClearSession, nodex.NodeFinalizeReply},
		{nodex.NodeAcknowledge, nodex.NodeFinalizeReply},
		{nodex.NodeLoadSession, nodex.NodeMatchFAQ},
		{nodex.NodeResolveIntent, nodex.NodeDispatchAction},
		{nodex.NodeDispatchAction, nodex.NodeRecordTurns},
		{nodex.NodeRecordTurns, nodex.NodeSynthesizeReply},
		{nodex.NodeSynthesizeReply, nodex.NodeFinalizeReply},
		{nodex.NodeFinalizeReply, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_event"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
