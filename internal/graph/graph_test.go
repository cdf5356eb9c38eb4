package graph

import (
	"testing"
)

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()

	g.AddNode("MainTree")
	g.AddNode("GraspObject")

	if !g.nodes["MainTree"] {
		t.Error("MainTree node should exist")
	}
	if !g.nodes["GraspObject"] {
		t.Error("GraspObject node should exist")
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()

	// MainTree includes GraspObject
	err := g.AddEdge("MainTree", "GraspObject")
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	if len(g.edges["MainTree"]) != 1 || g.edges["MainTree"][0] != "GraspObject" {
		t.Error("Edge MainTree->GraspObject should exist")
	}
}

func TestGraph_CycleDetection(t *testing.T) {
	g := NewGraph()

	// MainTree includes A, A includes B
	g.AddEdge("MainTree", "A")
	g.AddEdge("A", "B")

	hasCycle, _ := g.HasCycle()
	if hasCycle {
		t.Error("Should not detect cycle in MainTree->A->B")
	}

	// B including MainTree would close the loop
	if !g.WouldCreateCycle("B", "MainTree") {
		t.Error("Adding B->MainTree should create a cycle")
	}

	if g.WouldCreateCycle("MainTree", "B") {
		t.Error("Adding MainTree->B should NOT create a cycle")
	}
}

func TestGraph_CycleError(t *testing.T) {
	g := NewGraph()

	g.AddEdge("MainTree", "A")
	g.AddEdge("A", "B")

	err := g.AddEdge("B", "MainTree")
	if err == nil {
		t.Error("Should return error for self-including subtree chain")
	}

	if !IsCycleError(err) {
		t.Errorf("Error should be CycleError, got: %T", err)
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := NewGraph()

	// C includes B, which includes the leaf subtree A.
	g.AddEdge("C", "B")
	g.AddEdge("B", "A")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	indexOf := func(id string) int {
		for i, v := range order {
			if v == id {
				return i
			}
		}
		return -1
	}

	if indexOf("C") > indexOf("B") {
		t.Error("C should come before B")
	}
	if indexOf("B") > indexOf("A") {
		t.Error("B should come before A")
	}
}

func BenchmarkCycleDetection(b *testing.B) {
	g := NewGraph()
	for i := 0; i < 100; i++ {
		g.AddNode(string(rune('A' + i%26)) + string(rune('0'+i/26)))
	}

	for i := 0; i < 99; i++ {
		from := string(rune('A'+i%26)) + string(rune('0'+i/26))
		to := string(rune('A'+(i+1)%26)) + string(rune('0'+(i+1)/26))
		g.edges[from] = append(g.edges[from], to)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.HasCycle()
	}
}
