package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

const (
	searchAllToolName      = "search_all"
	searchSpecificToolName = "search_specific"
	metadataToolName       = "get_document_metadata"
)

const answerSystemPrompt = `You are the retrieval assistant of a national education ministry.
Answer questions using ONLY content returned by your tools. Use search_all to
search the whole corpus, search_specific to dig deeper into one document, and
get_document_metadata to look up a document's title, summary and status.
Every factual claim must be supported by a retrieved passage. If the retrieved
passages do not contain the answer, say so plainly instead of guessing.
Passages are labelled with their document id; mention documents by title when
citing them. Content marked as pending or under review is provisional; note
that when you rely on it.`

type answererImpl struct {
	retriever services.Retriever
	documents services.DocumentService
	llm       services.LLMService
	memory    services.ThreadMemoryService
	cfg       *config.LLMConfig
}

func NewAnswerer(retriever services.Retriever, documents services.DocumentService, llm services.LLMService, memory services.ThreadMemoryService, cfg *config.LLMConfig) services.Answerer {
	return &answererImpl{
		retriever: retriever,
		documents: documents,
		llm:       llm,
		memory:    memory,
		cfg:       cfg,
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	DocumentID string `json:"doc_id"`
}

func queryProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "The search query",
	}
}

func docIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "UUID of the target document",
	}
}

func (s *answererImpl) toolset() []services.ToolDefinition {
	return []services.ToolDefinition{
		{
			Type: "function",
			Function: services.ToolFunctionDef{
				Name:        searchAllToolName,
				Description: "Search the document corpus for passages relevant to a query. Returns ranked text passages with their source document ids.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": queryProperty(),
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: services.ToolFunctionDef{
				Name:        searchSpecificToolName,
				Description: "Search inside one document for passages relevant to a query. Use after search_all has surfaced an interesting document.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query":  queryProperty(),
						"doc_id": docIDProperty(),
					},
					"required": []string{"query", "doc_id"},
				},
			},
		},
		{
			Type: "function",
			Function: services.ToolFunctionDef{
				Name:        metadataToolName,
				Description: "Fetch a document's title, summary, department and approval status by id.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"doc_id": docIDProperty(),
					},
					"required": []string{"doc_id"},
				},
			},
		},
	}
}

func (s *answererImpl) Answer(ctx context.Context, viewer models.Viewer, req models.QueryRequest) (*models.AnswerResult, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	messages := []services.Message{{Role: "system", Content: answerSystemPrompt}}

	if req.ThreadID != nil {
		history, err := s.memory.GetThread(ctx, viewer, *req.ThreadID)
		if err != nil {
			log.Printf("answer: failed to load thread %s: %v", *req.ThreadID, err)
		}
		for _, msg := range history {
			messages = append(messages, services.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	messages = append(messages, services.Message{Role: "user", Content: req.Query})

	tools := s.toolset()

	var (
		bestByDoc = make(map[uuid.UUID]models.RetrievedChunk)
		degraded  bool
		toolCalls int
		answer    string
	)

	maxIterations := s.cfg.MaxToolIterations
	if maxIterations < 1 {
		maxIterations = 4
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		// Force at least one retrieval so the first reply is grounded.
		toolChoice := "auto"
		if iteration == 0 {
			toolChoice = "required"
		}

		resp, err := s.llm.SendRequestWithTools(ctx, messages, tools, toolChoice)
		if err != nil {
			return nil, fmt.Errorf("answer generation failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			answer = resp.Content
			break
		}

		messages = append(messages, services.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			toolCalls++
			content, result, callDegraded := s.runTool(ctx, viewer, call)
			degraded = degraded || callDegraded
			for _, chunk := range resultChunks(result) {
				if best, ok := bestByDoc[chunk.DocumentID]; !ok || chunk.Score > best.Score {
					bestByDoc[chunk.DocumentID] = chunk
				}
			}
			messages = append(messages, services.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	if answer == "" {
		// Iteration budget exhausted mid-loop; ask for a final answer with
		// the evidence gathered so far.
		resp, err := s.llm.SendRequest(ctx, append(messages, services.Message{
			Role:    "system",
			Content: "Answer now from the passages already retrieved. Do not request more searches.",
		}))
		if err != nil {
			return nil, fmt.Errorf("answer generation failed: %w", err)
		}
		answer = resp.Content
	}

	citations := buildCitations(bestByDoc)
	confidence := 0.0
	if len(citations) > 0 {
		confidence = citations[0].Confidence
	}

	result := &models.AnswerResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: confidence,
		Degraded:   degraded,
		ToolCalls:  toolCalls,
	}

	if req.ThreadID != nil {
		now := time.Now()
		for _, msg := range []models.ThreadMessage{
			{Role: "user", Content: req.Query, Timestamp: now},
			{Role: "assistant", Content: answer, Timestamp: now},
		} {
			if err := s.memory.AppendMessage(ctx, viewer, *req.ThreadID, msg); err != nil {
				log.Printf("answer: failed to append to thread %s: %v", *req.ThreadID, err)
			}
		}
	}

	return result, nil
}

// runTool executes one tool call. Failures degrade to an explanatory string
// so the model can still answer from earlier searches. The returned result is
// non-nil only for the search tools, whose chunks feed the citations.
func (s *answererImpl) runTool(ctx context.Context, viewer models.Viewer, call services.ToolCall) (string, *models.RetrievalResult, bool) {
	var args searchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		log.Printf("answer: bad tool arguments %q: %v", call.Function.Arguments, err)
		return "Invalid tool arguments.", nil, true
	}

	switch call.Function.Name {
	case searchAllToolName:
		if args.Query == "" {
			return "A query is required.", nil, true
		}
		result, err := s.retriever.Retrieve(ctx, viewer, args.Query, -1)
		if err != nil {
			log.Printf("answer: retrieval for %q failed: %v", args.Query, err)
			return "Search failed.", nil, true
		}
		return formatSearchResult(result), result, result.Degraded

	case searchSpecificToolName:
		docID, err := uuid.Parse(args.DocumentID)
		if err != nil || args.Query == "" {
			return "A query and a valid doc_id are required.", nil, true
		}
		result, err := s.retriever.RetrieveIn(ctx, viewer, docID, args.Query, -1)
		if err != nil {
			log.Printf("answer: retrieval in document %s failed: %v", docID, err)
			return "Search failed.", nil, true
		}
		return formatSearchResult(result), result, result.Degraded

	case metadataToolName:
		docID, err := uuid.Parse(args.DocumentID)
		if err != nil {
			return "A valid doc_id is required.", nil, true
		}
		doc, meta, err := s.documents.GetDocument(ctx, docID, viewer)
		if err != nil {
			// Denied and absent read identically to the model too.
			return "Document not found.", nil, false
		}
		return formatMetadata(doc, meta), nil, false
	}

	log.Printf("answer: model requested unknown tool %q", call.Function.Name)
	return fmt.Sprintf("Unknown tool %q.", call.Function.Name), nil, true
}

func formatMetadata(doc *models.Document, meta *models.DocumentMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "document=%s title=%q status=%s", doc.ID, meta.Title, doc.ApprovalStatus)
	if meta.Department != "" {
		fmt.Fprintf(&b, " department=%q", meta.Department)
	}
	if meta.Summary != "" {
		fmt.Fprintf(&b, "\nsummary: %s", meta.Summary)
	}
	return b.String()
}

func resultChunks(result *models.RetrievalResult) []models.RetrievedChunk {
	if result == nil {
		return nil
	}
	return result.Chunks
}

func formatSearchResult(result *models.RetrievalResult) string {
	if result == nil || len(result.Chunks) == 0 {
		return "No passages found."
	}
	var b strings.Builder
	for i, chunk := range result.Chunks {
		fmt.Fprintf(&b, "[%d] document=%s", i+1, chunk.DocumentID)
		if chunk.Title != "" {
			fmt.Fprintf(&b, " title=%q", chunk.Title)
		}
		if chunk.ApprovalStatus != models.StatusApproved {
			fmt.Fprintf(&b, " status=%s", chunk.ApprovalStatus)
		}
		b.WriteString("\n")
		b.WriteString(chunk.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildCitations(bestByDoc map[uuid.UUID]models.RetrievedChunk) []models.Citation {
	citations := make([]models.Citation, 0, len(bestByDoc))
	for docID, chunk := range bestByDoc {
		citations = append(citations, models.Citation{
			DocumentID:     docID,
			Title:          chunk.Title,
			ApprovalStatus: chunk.ApprovalStatus,
			Confidence:     chunk.Score,
		})
	}
	sort.Slice(citations, func(i, j int) bool {
		if citations[i].Confidence != citations[j].Confidence {
			return citations[i].Confidence > citations[j].Confidence
		}
		return citations[i].DocumentID.String() < citations[j].DocumentID.String()
	})
	return citations
}
