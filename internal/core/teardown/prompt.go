package teardown

import (
	"fmt"
	"strings"
)

// BuildDirectPrompt は先頭チャンクのみで回答させるプロンプトを構築する
func BuildDirectPrompt(company string, q Question, chunk Chunk, supplementary string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are a company research analyst for %s.\n\n", company))
	sb.WriteString(fmt.Sprintf("Your task: %s\n\n", q.Instruction))
	sb.WriteString("Company Data:\n")
	sb.WriteString(chunk.Text)
	sb.WriteString("\n")
	writeSupplementary(&sb, supplementary)

	sb.WriteString("\nInstructions:\n")
	sb.WriteString("- Answer only the specific question asked\n")
	sb.WriteString("- Be precise and professional\n")
	sb.WriteString(fmt.Sprintf("- If information is not available, state %q\n\n", InformationNotAvailable))

	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Title))
	sb.WriteString("Answer:")

	return sb.String()
}

// BuildExtractPrompt はチャンク単位で関連情報を抽出させるプロンプトを構築する
func BuildExtractPrompt(company string, q Question, chunk Chunk, part, total int, supplementary string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are a company research analyst for %s.\n\n", company))
	sb.WriteString(fmt.Sprintf("Your task: %s\n\n", q.Instruction))
	sb.WriteString(fmt.Sprintf("Company Data (Part %d/%d):\n", part, total))
	sb.WriteString(chunk.Text)
	sb.WriteString("\n")
	writeSupplementary(&sb, supplementary)

	sb.WriteString("\nInstructions:\n")
	sb.WriteString(fmt.Sprintf("- Extract only information relevant to: %s\n", q.Title))
	sb.WriteString("- Be precise and concise\n")
	sb.WriteString(fmt.Sprintf("- If no relevant information is found, say %q\n\n", NoRelevantInformation))

	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Title))
	sb.WriteString("Relevant Information:")

	return sb.String()
}

// BuildMergePrompt は部分回答を1つの最終回答へ統合させるプロンプトを構築する
func BuildMergePrompt(company string, q Question, partials []string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Based on the following information about %s, provide a comprehensive answer to: %s\n\n", company, q.Title))
	sb.WriteString(fmt.Sprintf("Task: %s\n\n", q.Instruction))
	sb.WriteString("Information gathered:\n")
	sb.WriteString(strings.Join(partials, "\n"))
	sb.WriteString("\n\nProvide a final, synthesized answer:")

	return sb.String()
}

func writeSupplementary(sb *strings.Builder, supplementary string) {
	if supplementary == "" {
		return
	}
	sb.WriteString("\nSupplementary Context:\n")
	sb.WriteString(supplementary)
	sb.WriteString("\n")
}
