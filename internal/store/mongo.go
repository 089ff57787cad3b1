package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/deep-research-agent/internal/models"
)

// MongoStore handles pipeline record CRUD across the report collections.
// Every update is a targeted $set so concurrent writers touching different
// fields of the same document do not clobber each other.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func oid(id string) (primitive.ObjectID, error) {
	o, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return o, nil
}

// ── reports ──────────────────────────────────────────────────

func (s *MongoStore) InsertReport(ctx context.Context, r *models.Report) (string, error) {
	res, err := s.col(models.ColReports).InsertOne(ctx, r)
	if err != nil {
		return "", fmt.Errorf("mongo insert report: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *MongoStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	o, err := oid(id)
	if err != nil {
		return nil, err
	}
	var r models.Report
	if err := s.col(models.ColReports).FindOne(ctx, bson.M{"_id": o}).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) ListReports(ctx context.Context, userID, tenantID, status string, page, pageSize int64) ([]models.Report, int64, error) {
	filter := bson.M{"user_id": userID, "tenant_id": tenantID}
	if status != "" {
		filter["status"] = status
	}
	col := s.col(models.ColReports)
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * pageSize).
		SetLimit(pageSize)
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var reports []models.Report
	if err := cur.All(ctx, &reports); err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (s *MongoStore) setReportFields(ctx context.Context, id string, fields bson.M) (int64, error) {
	o, err := oid(id)
	if err != nil {
		return 0, err
	}
	fields["updated_at"] = time.Now().UTC()
	res, err := s.col(models.ColReports).UpdateOne(ctx, bson.M{"_id": o}, bson.M{"$set": fields})
	if err != nil {
		return 0, fmt.Errorf("mongo update report: %w", err)
	}
	return res.MatchedCount, nil
}

// UpdateReportStep replaces one step's state subdocument. Other steps are
// untouched; same-step concurrent writers are last-writer-wins.
func (s *MongoStore) UpdateReportStep(ctx context.Context, id, step string, state models.StepState) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"steps." + step: state})
}

func (s *MongoStore) SetReportProgress(ctx context.Context, id string, p models.Progress) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{
		"completed_steps":     p.CompletedSteps,
		"total_steps":         p.TotalSteps,
		"progress_percentage": p.ProgressPercentage,
		"status":              p.Status,
	})
}

func (s *MongoStore) SetReportStatus(ctx context.Context, id, status string) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"status": status})
}

func (s *MongoStore) SetReportLocked(ctx context.Context, id string, locked bool) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"locked": locked})
}

func (s *MongoStore) SetReportTitle(ctx context.Context, id, title, message string) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"title": title, "message": message})
}

func (s *MongoStore) SetReportSummary(ctx context.Context, id, summary string) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"summary": summary})
}

func (s *MongoStore) SetReportFinalCompleted(ctx context.Context, id string, completed bool) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"is_final_report_completed": completed})
}

func (s *MongoStore) SetReportTemplate(ctx context.Context, id, templateID string, isReplace bool) (int64, error) {
	return s.setReportFields(ctx, id, bson.M{"template_id": templateID, "is_replace": isReplace})
}

func (s *MongoStore) DeleteReport(ctx context.Context, id string) (int64, error) {
	o, err := oid(id)
	if err != nil {
		return 0, err
	}
	res, err := s.col(models.ColReports).DeleteOne(ctx, bson.M{"_id": o})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ── report_plan ──────────────────────────────────────────────

func (s *MongoStore) InsertPlan(ctx context.Context, p *models.PlanRecord) (string, error) {
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	res, err := s.col(models.ColPlan).InsertOne(ctx, p)
	if err != nil {
		return "", fmt.Errorf("mongo insert plan: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *MongoStore) LatestPlanByReport(ctx context.Context, reportID string) (*models.PlanRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var p models.PlanRecord
	if err := s.col(models.ColPlan).FindOne(ctx, bson.M{"report_id": reportID}, opts).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ── report_plan_split ────────────────────────────────────────

func (s *MongoStore) DeleteSplitsByReport(ctx context.Context, reportID string) (int64, error) {
	res, err := s.col(models.ColPlanSplit).DeleteMany(ctx, bson.M{"report_id": reportID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) InsertSplits(ctx context.Context, splits []models.ChapterSplit) ([]models.ChapterSplit, error) {
	docs := make([]interface{}, len(splits))
	for i := range splits {
		splits[i].CreatedAt = time.Now().UTC()
		docs[i] = splits[i]
	}
	res, err := s.col(models.ColPlanSplit).InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("mongo insert splits: %w", err)
	}
	for i, id := range res.InsertedIDs {
		splits[i].ID = id.(primitive.ObjectID)
	}
	return splits, nil
}

func (s *MongoStore) ListSplitsByReport(ctx context.Context, reportID string) ([]models.ChapterSplit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chapter_index", Value: 1}})
	cur, err := s.col(models.ColPlanSplit).Find(ctx, bson.M{"report_id": reportID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var splits []models.ChapterSplit
	if err := cur.All(ctx, &splits); err != nil {
		return nil, err
	}
	return splits, nil
}

func (s *MongoStore) GetSplit(ctx context.Context, id string) (*models.ChapterSplit, error) {
	o, err := oid(id)
	if err != nil {
		return nil, err
	}
	var sp models.ChapterSplit
	if err := s.col(models.ColPlanSplit).FindOne(ctx, bson.M{"_id": o}).Decode(&sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// ── report_serp ──────────────────────────────────────────────

func (s *MongoStore) InsertSerpRecord(ctx context.Context, r *models.SerpRecord) (string, error) {
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	res, err := s.col(models.ColSerp).InsertOne(ctx, r)
	if err != nil {
		return "", fmt.Errorf("mongo insert serp record: %w", err)
	}
	r.ID = res.InsertedID.(primitive.ObjectID)
	return r.ID.Hex(), nil
}

func (s *MongoStore) SetSerpRecordStatus(ctx context.Context, id, status string, response any, errorMessage string) (int64, error) {
	o, err := oid(id)
	if err != nil {
		return 0, err
	}
	fields := bson.M{"status": status, "updated_at": time.Now().UTC()}
	if response != nil {
		fields["response"] = response
	}
	if errorMessage != "" {
		fields["error_message"] = errorMessage
	}
	res, err := s.col(models.ColSerp).UpdateOne(ctx, bson.M{"_id": o}, bson.M{"$set": fields})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) DeleteSerpRecordsBySplit(ctx context.Context, splitID string) (int64, error) {
	res, err := s.col(models.ColSerp).DeleteMany(ctx, bson.M{"split_id": splitID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ── serp_task ────────────────────────────────────────────────

func (s *MongoStore) InsertSerpTasks(ctx context.Context, tasks []models.SerpTask) ([]models.SerpTask, error) {
	docs := make([]interface{}, len(tasks))
	for i := range tasks {
		tasks[i].CreatedAt = time.Now().UTC()
		tasks[i].UpdatedAt = tasks[i].CreatedAt
		docs[i] = tasks[i]
	}
	res, err := s.col(models.ColSerpTask).InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("mongo insert serp tasks: %w", err)
	}
	for i, id := range res.InsertedIDs {
		tasks[i].ID = id.(primitive.ObjectID)
	}
	return tasks, nil
}

func (s *MongoStore) GetSerpTask(ctx context.Context, id string) (*models.SerpTask, error) {
	o, err := oid(id)
	if err != nil {
		return nil, err
	}
	var t models.SerpTask
	if err := s.col(models.ColSerpTask).FindOne(ctx, bson.M{"_id": o}).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) ListTaskIDsBySplit(ctx context.Context, splitID string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.col(models.ColSerpTask).Find(ctx, bson.M{"split_id": splitID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID.Hex())
	}
	return ids, cur.Err()
}

func (s *MongoStore) SetSerpTaskState(ctx context.Context, id, state string) (int64, error) {
	o, err := oid(id)
	if err != nil {
		return 0, err
	}
	res, err := s.col(models.ColSerpTask).UpdateOne(ctx, bson.M{"_id": o},
		bson.M{"$set": bson.M{"search_state": state, "updated_at": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) DeleteSerpTasksBySplit(ctx context.Context, splitID string) (int64, error) {
	res, err := s.col(models.ColSerpTask).DeleteMany(ctx, bson.M{"split_id": splitID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteSerpTask(ctx context.Context, id string) (int64, error) {
	o, err := oid(id)
	if err != nil {
		return 0, err
	}
	res, err := s.col(models.ColSerpTask).DeleteOne(ctx, bson.M{"_id": o})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ── search_results ───────────────────────────────────────────

func (s *MongoStore) DeleteSearchResultsByTask(ctx context.Context, taskID string) (int64, error) {
	res, err := s.col(models.ColSearchResults).DeleteMany(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteSearchResultsByTasks(ctx context.Context, taskIDs []string) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	res, err := s.col(models.ColSearchResults).DeleteMany(ctx, bson.M{"task_id": bson.M{"$in": taskIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MaxResultIndex returns the highest result_index stored for a report, or
// -1 when the report has no results yet.
func (s *MongoStore) MaxResultIndex(ctx context.Context, reportID string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "result_index", Value: -1}})
	var doc struct {
		ResultIndex int `bson:"result_index"`
	}
	err := s.col(models.ColSearchResults).FindOne(ctx, bson.M{"report_id": reportID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return doc.ResultIndex, nil
}

func (s *MongoStore) InsertSearchResults(ctx context.Context, results []models.SearchResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, len(results))
	for i := range results {
		results[i].CreatedAt = time.Now().UTC()
		docs[i] = results[i]
	}
	res, err := s.col(models.ColSearchResults).InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("mongo insert search results: %w", err)
	}
	return len(res.InsertedIDs), nil
}

func (s *MongoStore) ListResultsByTask(ctx context.Context, taskID string) ([]models.SearchResult, error) {
	opts := options.Find().SetSort(bson.D{{Key: "result_index", Value: 1}})
	cur, err := s.col(models.ColSearchResults).Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []models.SearchResult
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ── report_search_summary ────────────────────────────────────

func (s *MongoStore) DeleteSummariesByTask(ctx context.Context, taskID string) (int64, error) {
	res, err := s.col(models.ColSearchSummary).DeleteMany(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteSummariesByTasks(ctx context.Context, taskIDs []string) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	res, err := s.col(models.ColSearchSummary).DeleteMany(ctx, bson.M{"task_id": bson.M{"$in": taskIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) InsertSummary(ctx context.Context, sum *models.SearchSummary) (string, error) {
	sum.CreatedAt = time.Now().UTC()
	res, err := s.col(models.ColSearchSummary).InsertOne(ctx, sum)
	if err != nil {
		return "", fmt.Errorf("mongo insert summary: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *MongoStore) ListSummariesBySplit(ctx context.Context, splitID string) ([]models.SearchSummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.col(models.ColSearchSummary).Find(ctx, bson.M{"split_id": splitID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var sums []models.SearchSummary
	if err := cur.All(ctx, &sums); err != nil {
		return nil, err
	}
	return sums, nil
}

// ── report_final ─────────────────────────────────────────────

func (s *MongoStore) DeleteFinalDraft(ctx context.Context, reportID, splitID string) (int64, error) {
	res, err := s.col(models.ColFinal).DeleteMany(ctx, bson.M{"report_id": reportID, "split_id": splitID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteFinalByReport(ctx context.Context, reportID string) (int64, error) {
	res, err := s.col(models.ColFinal).DeleteMany(ctx, bson.M{"report_id": reportID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) InsertFinalDraft(ctx context.Context, d *models.FinalChapterDraft) (string, error) {
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	res, err := s.col(models.ColFinal).InsertOne(ctx, d)
	if err != nil {
		return "", fmt.Errorf("mongo insert final draft: %w", err)
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *MongoStore) ListFinalByReport(ctx context.Context, reportID string) ([]models.FinalChapterDraft, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chapter_index", Value: 1}})
	cur, err := s.col(models.ColFinal).Find(ctx, bson.M{"report_id": reportID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var drafts []models.FinalChapterDraft
	if err := cur.All(ctx, &drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

// ── cascade ──────────────────────────────────────────────────

// DeleteByReportID removes every record matching report_id in the named
// collection. Used by the cascade deleter across the pipeline collections.
func (s *MongoStore) DeleteByReportID(ctx context.Context, collection, reportID string) (int64, error) {
	res, err := s.col(collection).DeleteMany(ctx, bson.M{"report_id": reportID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
